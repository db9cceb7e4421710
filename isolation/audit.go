package isolation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/types"
)

// AuditSink persists the audit entries selected for durability.
type AuditSink interface {
	AppendAudit(ctx context.Context, e types.AuditEntry) error
}

// auditLog is an append-only capped ring of access decisions. Every check
// lands here; only denials and cross-context passes go to the sink.
type auditLog struct {
	mu      sync.Mutex
	entries []types.AuditEntry
	next    int
	full    bool
	cap     int

	sink    AuditSink
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	denials      int64
	crossContext int64
	persisted    int64
}

func newAuditLog(capacity int, sink AuditSink, collector *metrics.Collector, logger *zap.Logger) *auditLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &auditLog{
		entries: make([]types.AuditEntry, capacity),
		cap:     capacity,
		sink:    sink,
		metrics: collector,
		logger:  logger.With(zap.String("component", "audit_log")),
		now:     time.Now,
	}
}

// record appends an entry and persists it when it is a denial or an
// allowed cross-context access. Persistence failures are logged, never
// surfaced; the in-memory record always succeeds.
func (a *auditLog) record(ctx context.Context, e types.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}

	a.mu.Lock()
	a.entries[a.next] = e
	a.next = (a.next + 1) % a.cap
	if a.next == 0 {
		a.full = true
	}
	if !e.Allowed {
		a.denials++
	}
	if e.CrossContext && e.Allowed {
		a.crossContext++
	}
	persist := !e.Allowed || (e.CrossContext && e.Allowed)
	if persist {
		a.persisted++
	}
	a.mu.Unlock()

	if persist && a.sink != nil {
		if a.metrics != nil {
			a.metrics.ObserveAuditPersisted()
		}
		if err := a.sink.AppendAudit(ctx, e); err != nil {
			a.logger.Warn("failed to persist audit entry",
				zap.String("context_id", e.ContextID),
				zap.String("operation", e.Operation),
				zap.Error(err))
		}
	}
}

// recent returns up to limit entries, newest first.
func (a *auditLog) recent(limit int) []types.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.next
	if a.full {
		size = a.cap
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]types.AuditEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (a.next - 1 - i + a.cap) % a.cap
		out = append(out, a.entries[idx])
	}
	return out
}

func (a *auditLog) counters() (denials, cross, persisted int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.denials, a.crossContext, a.persisted
}
