// Package isolation gates every memory operation behind an access-control
// and contamination boundary keyed by (agentID, userID, optional threadID).
//
// The hard invariant: two contexts with different users can never reach
// each other's tier boundaries, regardless of permissions or sharing rules.
package isolation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/registry"
	"github.com/BaSui01/memflow/types"
)

// Operation kinds recognized by the permission check. Anything else is
// denied outright.
const (
	opKindRead    = "read"
	opKindWrite   = "write"
	opKindDelete  = "delete"
	opKindShare   = "share"
	opKindUnknown = "unknown"
)

func operationKind(op string) string {
	switch op {
	case "read", "retrieve":
		return opKindRead
	case "write", "store", "update":
		return opKindWrite
	case "delete", "remove":
		return opKindDelete
	case "share":
		return opKindShare
	default:
		return opKindUnknown
	}
}

// destructive reports whether the operation may modify or remove existing
// records. Destructive operations are never allowed cross-context.
func destructive(op string) bool {
	switch op {
	case "delete", "remove", "update":
		return true
	}
	return false
}

// SharingRuleSource loads sharing rules between two contexts.
type SharingRuleSource interface {
	SharingRules(ctx context.Context, fromContextID, toContextID string) ([]types.SharingRule, error)
	SaveSharingRule(ctx context.Context, r *types.SharingRule) error
}

// Layer is the isolation layer. All substrate reads and writes pass its
// synchronous ValidateAccess before touching any tier.
type Layer struct {
	cfg      config.IsolationConfig
	contexts *registry.Registry[*types.IsolationContext]
	audit    *auditLog
	rules    SharingRuleSource
	scanner  *ContaminationScanner
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex // guards per-context counters on validated access
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Layer.
type Option func(*Layer)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

// NewLayer creates the isolation layer. sink persists selected audit
// entries; rules loads sharing rules; scanner may be nil when no tier
// stores are attached (contamination checks then report clean).
func NewLayer(cfg config.IsolationConfig, sink AuditSink, rules SharingRuleSource, scanner *ContaminationScanner, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Layer{
		cfg:      cfg,
		contexts: registry.New[*types.IsolationContext](cfg.ContextIdleTTL),
		audit:    newAuditLog(cfg.AuditRingSize, sink, collector, logger),
		rules:    rules,
		scanner:  scanner,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "isolation")),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateContext returns the isolation context for the derived key,
// creating it on first use. Idempotent.
func (l *Layer) CreateContext(agentID int64, userID, threadID string) *types.IsolationContext {
	key := types.IsolationKey(agentID, userID, threadID)
	return l.contexts.GetOrCreate(key, func() *types.IsolationContext {
		now := l.now()
		l.logger.Debug("isolation context created",
			zap.String("context_id", key),
			zap.Int64("agent_id", agentID),
			zap.String("user_id", userID))
		return &types.IsolationContext{
			ID:           key,
			AgentID:      agentID,
			UserID:       userID,
			ThreadID:     threadID,
			Permissions:  types.DefaultPermissions(),
			CreatedAt:    now,
			LastAccessed: now,
		}
	})
}

// GetContext returns an existing context without creating one.
func (l *Layer) GetContext(contextID string) (*types.IsolationContext, bool) {
	return l.contexts.Get(contextID)
}

// ValidateAccess runs the ordered check sequence for one operation,
// short-circuiting on the first failure. Every check performed produces an
// audit entry, pass or fail. Denials are returned as decisions, not errors.
func (l *Layer) ValidateAccess(ctx context.Context, contextID, operation, targetContextID string, metadata map[string]any) types.AccessDecision {
	crossContext := targetContextID != "" && targetContextID != contextID

	// Check 1: context existence.
	ic, ok := l.contexts.Get(contextID)
	if !ok {
		return l.deny(ctx, contextID, targetContextID, operation, "context_exists",
			fmt.Sprintf("isolation context %s does not exist", contextID), crossContext)
	}
	l.pass(ctx, contextID, targetContextID, operation, "context_exists", crossContext)

	// Check 2: basic permission for the operation kind.
	if d := l.checkPermission(ic, operation); !d.Allowed {
		return l.deny(ctx, contextID, targetContextID, operation, "permission", d.Reason, crossContext)
	}
	l.pass(ctx, contextID, targetContextID, operation, "permission", crossContext)

	// Check 3: cross-context rules. Trivially passes when no foreign
	// target is named.
	if crossContext {
		if d := l.checkCrossContext(ctx, ic, operation, targetContextID); !d.Allowed {
			return l.deny(ctx, contextID, targetContextID, operation, "cross_context", d.Reason, true)
		}
	}
	l.pass(ctx, contextID, targetContextID, operation, "cross_context", crossContext)

	// Check 4: contamination heuristic over supplied metadata.
	risk := ContaminationRisk(ic, metadata)
	if risk >= l.cfg.ContaminationRiskThreshold {
		return l.deny(ctx, contextID, targetContextID, operation, "contamination",
			fmt.Sprintf("metadata contamination risk %.2f exceeds threshold %.2f", risk, l.cfg.ContaminationRiskThreshold), crossContext)
	}
	l.pass(ctx, contextID, targetContextID, operation, "contamination", crossContext)

	// Check 5: suspicious access rate.
	if d := l.checkAccessRate(ic); !d.Allowed {
		return l.deny(ctx, contextID, targetContextID, operation, "access_rate", d.Reason, crossContext)
	}
	l.pass(ctx, contextID, targetContextID, operation, "access_rate", crossContext)

	// Check 6: session timeout.
	now := l.now()
	l.mu.Lock()
	idle := now.Sub(ic.LastAccessed)
	if idle > l.cfg.SessionTimeout {
		l.mu.Unlock()
		return l.deny(ctx, contextID, targetContextID, operation, "session_timeout",
			fmt.Sprintf("session idle for %s exceeds timeout %s", idle.Truncate(time.Second), l.cfg.SessionTimeout), crossContext)
	}
	ic.LastAccessed = now
	ic.AccessCount++
	l.mu.Unlock()
	l.pass(ctx, contextID, targetContextID, operation, "session_timeout", crossContext)

	if crossContext && l.metrics != nil {
		l.metrics.ObserveCrossContextPass()
	}
	return types.Allow()
}

func (l *Layer) checkPermission(ic *types.IsolationContext, operation string) types.AccessDecision {
	switch operationKind(operation) {
	case opKindRead:
		if !ic.Permissions.Read {
			return types.Deny("context lacks read permission")
		}
	case opKindWrite:
		if !ic.Permissions.Write {
			return types.Deny("context lacks write permission")
		}
	case opKindDelete:
		if !ic.Permissions.Delete {
			return types.Deny("context lacks delete permission")
		}
	case opKindShare:
		if !ic.Permissions.Share {
			return types.Deny("context lacks share permission")
		}
	default:
		return types.Deny(fmt.Sprintf("unknown operation %q", operation))
	}
	return types.Allow()
}

// checkCrossContext enforces the cross-tenant rules: cross-user access is
// always denied, destructive operations never cross contexts, and
// same-user cross-agent access is allowed unless an explicit sharing rule
// denies it.
func (l *Layer) checkCrossContext(ctx context.Context, ic *types.IsolationContext, operation, targetContextID string) types.AccessDecision {
	target, ok := l.contexts.Get(targetContextID)
	if !ok {
		return types.Deny(fmt.Sprintf("target context %s does not exist", targetContextID))
	}

	if target.UserID != ic.UserID {
		return types.Deny("cross-user isolation: contexts belong to different users")
	}

	if destructive(operation) {
		return types.Deny(fmt.Sprintf("destructive operation %q is never allowed cross-context", operation))
	}

	if !ic.Permissions.CrossAgent {
		return types.Deny("context lacks cross-agent permission")
	}

	if l.rules != nil {
		rules, err := l.rules.SharingRules(ctx, ic.ID, targetContextID)
		if err != nil {
			// Soft failure: fall back to the default same-user policy.
			l.logger.Warn("failed to load sharing rules, applying default policy",
				zap.String("from", ic.ID),
				zap.String("to", targetContextID),
				zap.Error(err))
			return types.Allow()
		}
		now := l.now()
		for _, r := range rules {
			if r.Expired(now) || !r.AppliesTo(operation) {
				continue
			}
			if !r.Allow {
				return types.Deny(fmt.Sprintf("sharing rule %s denies %q", r.ID, operation))
			}
			return types.Allow()
		}
	}
	return types.Allow()
}

func (l *Layer) checkAccessRate(ic *types.IsolationContext) types.AccessDecision {
	l.mu.Lock()
	count := ic.AccessCount
	elapsed := l.now().Sub(ic.CreatedAt).Seconds()
	l.mu.Unlock()

	if count <= l.cfg.RateCheckMinAccesses {
		return types.Allow()
	}
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	rate := float64(count) / elapsed
	if rate > l.cfg.MaxAccessRate {
		return types.Deny(fmt.Sprintf("access rate %.1f/s exceeds limit %.1f/s", rate, l.cfg.MaxAccessRate))
	}
	return types.Allow()
}

// CreateSharingRule records an explicit grant or denial between two
// contexts. The owning context must hold share permission.
func (l *Layer) CreateSharingRule(ctx context.Context, fromContextID, toContextID string, operations []string, allow bool, ttl time.Duration) (*types.SharingRule, error) {
	from, ok := l.contexts.Get(fromContextID)
	if !ok {
		return nil, types.NewError(types.ErrContextNotFound, fmt.Sprintf("context %s does not exist", fromContextID))
	}
	if !from.Permissions.Share {
		return nil, types.NewError(types.ErrInvalidInput, "context lacks share permission")
	}

	rule := &types.SharingRule{
		AgentID:       from.AgentID,
		UserID:        from.UserID,
		FromContextID: fromContextID,
		ToContextID:   toContextID,
		Operations:    operations,
		Allow:         allow,
		CreatedAt:     l.now(),
	}
	if ttl > 0 {
		exp := l.now().Add(ttl)
		rule.ExpiresAt = &exp
	}
	if l.rules != nil {
		if err := l.rules.SaveSharingRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("save sharing rule: %w", err)
		}
	}
	l.logger.Info("sharing rule created",
		zap.String("from", fromContextID),
		zap.String("to", toContextID),
		zap.Bool("allow", allow))
	return rule, nil
}

// CheckCrossContamination scans every tier for records foreign to the
// context's user. Callable synchronously; also runs on the periodic scan.
func (l *Layer) CheckCrossContamination(ctx context.Context, contextID string) (*ContaminationReport, error) {
	ic, ok := l.contexts.Get(contextID)
	if !ok {
		return nil, types.NewError(types.ErrContextNotFound, fmt.Sprintf("context %s does not exist", contextID))
	}
	if l.scanner == nil {
		return &ContaminationReport{ContextID: contextID, Timestamp: l.now()}, nil
	}

	report, err := l.scanner.Scan(ctx, ic)
	if err != nil {
		return nil, err
	}
	if report.Contaminated {
		l.mu.Lock()
		ic.Contaminated = true
		l.mu.Unlock()
	}
	return report, nil
}

// Start launches the periodic comprehensive contamination scan and the
// context eviction loop.
func (l *Layer) Start() {
	if l.cfg.ScanInterval > 0 && l.scanner != nil {
		l.wg.Add(1)
		go l.scanLoop()
	}
	if l.cfg.ContextIdleTTL > 0 {
		l.wg.Add(1)
		go l.evictLoop()
	}
}

// Stop terminates the background loops.
func (l *Layer) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Layer) scanLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		l.contexts.Range(func(key string, ic *types.IsolationContext) bool {
			report, err := l.CheckCrossContamination(ctx, key)
			if err != nil {
				l.logger.Warn("contamination scan failed", zap.String("context_id", key), zap.Error(err))
				return true
			}
			if report.Contaminated {
				l.logger.Error("cross-contamination detected",
					zap.String("context_id", key),
					zap.Any("tiers", report.TierCounts))
			}
			return true
		})
		cancel()
	}
}

func (l *Layer) evictLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.ContextIdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
		}
		if evicted := l.contexts.EvictIdle(); len(evicted) > 0 {
			l.logger.Debug("evicted idle isolation contexts", zap.Int("count", len(evicted)))
		}
	}
}

func (l *Layer) pass(ctx context.Context, contextID, targetContextID, operation, check string, crossContext bool) {
	l.audit.record(ctx, types.AuditEntry{
		ContextID:       contextID,
		TargetContextID: targetContextID,
		Operation:       operation,
		Check:           check,
		Allowed:         true,
		CrossContext:    crossContext,
		Timestamp:       l.now(),
	})
	if l.metrics != nil {
		l.metrics.ObserveAccessCheck(check, true)
	}
}

func (l *Layer) deny(ctx context.Context, contextID, targetContextID, operation, check, reason string, crossContext bool) types.AccessDecision {
	l.audit.record(ctx, types.AuditEntry{
		ContextID:       contextID,
		TargetContextID: targetContextID,
		Operation:       operation,
		Check:           check,
		Allowed:         false,
		Reason:          reason,
		CrossContext:    crossContext,
		Timestamp:       l.now(),
	})
	if l.metrics != nil {
		l.metrics.ObserveAccessCheck(check, false)
	}
	l.logger.Debug("access denied",
		zap.String("context_id", contextID),
		zap.String("operation", operation),
		zap.String("check", check),
		zap.String("reason", reason))
	return types.Deny(reason)
}

// AuditTrail returns up to limit recent audit entries, newest first.
func (l *Layer) AuditTrail(limit int) []types.AuditEntry {
	return l.audit.recent(limit)
}

// LayerStats summarizes the isolation layer.
type LayerStats struct {
	ActiveContexts int           `json:"active_contexts"`
	Denials        int64         `json:"denials"`
	CrossContext   int64         `json:"cross_context_passes"`
	AuditPersisted int64         `json:"audit_persisted"`
	SessionTimeout time.Duration `json:"session_timeout"`
	RiskThreshold  float64       `json:"contamination_risk_threshold"`
	MaxAccessRate  float64       `json:"max_access_rate"`
}

// GetStats returns read-only layer statistics.
func (l *Layer) GetStats() LayerStats {
	denials, cross, persisted := l.audit.counters()
	return LayerStats{
		ActiveContexts: l.contexts.Len(),
		Denials:        denials,
		CrossContext:   cross,
		AuditPersisted: persisted,
		SessionTimeout: l.cfg.SessionTimeout,
		RiskThreshold:  l.cfg.ContaminationRiskThreshold,
		MaxAccessRate:  l.cfg.MaxAccessRate,
	}
}
