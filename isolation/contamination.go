package isolation

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/types"
)

// Risk weights for metadata identifiers that disagree with the owning
// context. Summed and clamped to 1.0.
const (
	riskForeignUser     = 0.4
	riskForeignThread   = 0.3
	riskForeignAgent    = 0.3
	riskEmbeddedUserRef = 0.2
)

var embeddedUserRef = regexp.MustCompile(`user:([^\s:]+)`)

// ContaminationRisk scores how strongly the supplied metadata suggests the
// payload belongs to a different isolation context. Nil metadata is clean.
func ContaminationRisk(ic *types.IsolationContext, metadata map[string]any) float64 {
	if len(metadata) == 0 {
		return 0
	}
	risk := 0.0

	if v, ok := metadata["user_id"]; ok {
		if s, ok := v.(string); ok && s != "" && s != ic.UserID {
			risk += riskForeignUser
		}
	}
	if v, ok := metadata["thread_id"]; ok {
		if s, ok := v.(string); ok && s != "" && ic.ThreadID != "" && s != ic.ThreadID {
			risk += riskForeignThread
		}
	}
	if v, ok := metadata["agent_id"]; ok {
		switch id := v.(type) {
		case int64:
			if id != ic.AgentID {
				risk += riskForeignAgent
			}
		case int:
			if int64(id) != ic.AgentID {
				risk += riskForeignAgent
			}
		case float64:
			if int64(id) != ic.AgentID {
				risk += riskForeignAgent
			}
		}
	}

	// String values carrying an embedded reference to another user.
	for _, v := range metadata {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, m := range embeddedUserRef.FindAllStringSubmatch(s, -1) {
			if m[1] != ic.UserID {
				risk += riskEmbeddedUserRef
				break
			}
		}
		if risk >= 1.0 {
			break
		}
	}

	if risk > 1.0 {
		risk = 1.0
	}
	return risk
}

// EpisodicCounter counts SQL-backed records foreign to a user within an
// agent's partition, per tier.
type EpisodicCounter interface {
	CountForeign(ctx context.Context, tier types.MemoryCategory, agentID int64, userID string) (int64, error)
}

// WorkingCounter counts working-tier cache entries foreign to a user.
type WorkingCounter interface {
	CountForeign(ctx context.Context, agentID int64, userID string) (int64, error)
}

// ContaminationReport is the outcome of a full cross-tier scan for one
// context.
type ContaminationReport struct {
	ContextID    string                         `json:"context_id"`
	Contaminated bool                           `json:"contaminated"`
	TierCounts   map[types.MemoryCategory]int64 `json:"tier_counts"`
	Timestamp    time.Time                      `json:"timestamp"`
}

// ContaminationScanner inspects every tier for records that violate the
// (agentID, userID) partition of a context.
type ContaminationScanner struct {
	episodic EpisodicCounter
	working  WorkingCounter
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

// NewContaminationScanner wires the scanner to the tier stores. Either
// counter may be nil, in which case its tiers are skipped.
func NewContaminationScanner(episodic EpisodicCounter, working WorkingCounter, collector *metrics.Collector, logger *zap.Logger) *ContaminationScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContaminationScanner{
		episodic: episodic,
		working:  working,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "contamination_scanner")),
		now:      time.Now,
	}
}

// Scan checks all four tiers in parallel and reports any foreign records.
func (s *ContaminationScanner) Scan(ctx context.Context, ic *types.IsolationContext) (*ContaminationReport, error) {
	report := &ContaminationReport{
		ContextID:  ic.ID,
		TierCounts: make(map[types.MemoryCategory]int64, len(types.AllCategories())),
		Timestamp:  s.now(),
	}

	var mu sync.Mutex
	record := func(tier types.MemoryCategory, n int64) {
		mu.Lock()
		report.TierCounts[tier] = n
		if n > 0 {
			report.Contaminated = true
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.working != nil {
		g.Go(func() error {
			n, err := s.working.CountForeign(gctx, ic.AgentID, ic.UserID)
			if err != nil {
				return fmt.Errorf("working tier: %w", err)
			}
			record(types.MemoryWorking, n)
			return nil
		})
	}
	if s.episodic != nil {
		for _, tier := range []types.MemoryCategory{types.MemoryEpisodic, types.MemorySemantic, types.MemoryProcedural} {
			tier := tier
			g.Go(func() error {
				n, err := s.episodic.CountForeign(gctx, tier, ic.AgentID, ic.UserID)
				if err != nil {
					return fmt.Errorf("%s tier: %w", tier, err)
				}
				record(tier, n)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report.Contaminated {
		for tier, n := range report.TierCounts {
			if n == 0 {
				continue
			}
			if s.metrics != nil {
				s.metrics.ObserveContamination(string(tier))
			}
			s.logger.Warn("foreign records found in tier",
				zap.String("context_id", ic.ID),
				zap.String("tier", string(tier)),
				zap.Int64("count", n))
		}
	}
	return report, nil
}
