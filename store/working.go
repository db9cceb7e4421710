package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/types"
)

// WorkingItem is one short-lived record in the working tier.
type WorkingItem struct {
	ID        string         `json:"id"`
	AgentID   int64          `json:"agent_id"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkingStore keeps the working tier in Redis with session TTL.
type WorkingStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewWorkingStore creates the working-tier store.
func NewWorkingStore(c *cache.Manager, ttl time.Duration, logger *zap.Logger) *WorkingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkingStore{
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "working_store")),
		now:    time.Now,
	}
}

func workingKey(agentID int64, userID, itemKey string) string {
	return fmt.Sprintf("working:%d:%s:%s", agentID, userID, itemKey)
}

func workingPrefix(agentID int64) string {
	return fmt.Sprintf("working:%d:*", agentID)
}

// Put stores a working item under its context boundary.
func (w *WorkingStore) Put(ctx context.Context, item *WorkingItem) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = w.now()
	}
	return w.cache.SetJSON(ctx, workingKey(item.AgentID, item.UserID, item.Key), item, w.ttl)
}

// Get loads a working item; a miss returns (nil, nil).
func (w *WorkingStore) Get(ctx context.Context, agentID int64, userID, itemKey string) (*WorkingItem, error) {
	var item WorkingItem
	err := w.cache.GetJSON(ctx, workingKey(agentID, userID, itemKey), &item)
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete removes a working item.
func (w *WorkingStore) Delete(ctx context.Context, agentID int64, userID, itemKey string) error {
	return w.cache.Delete(ctx, workingKey(agentID, userID, itemKey))
}

// CountForeign counts working-tier keys under an agent's boundary whose
// embedded user differs from the context owner. Non-zero means the
// working tier is contaminated for that context.
func (w *WorkingStore) CountForeign(ctx context.Context, agentID int64, userID string) (int64, error) {
	keys, err := w.cache.ScanKeys(ctx, workingPrefix(agentID))
	if err != nil {
		return 0, err
	}

	prefix := fmt.Sprintf("working:%d:", agentID)
	var foreign int64
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		idx := strings.Index(rest, ":")
		if idx <= 0 {
			continue
		}
		if rest[:idx] != userID {
			foreign++
		}
	}
	return foreign, nil
}

// Tier identifies this store's tier.
func (w *WorkingStore) Tier() types.MemoryCategory { return types.MemoryWorking }
