package types

import (
	"fmt"
	"time"
)

// Permissions describes what a single isolation context may do within its
// own boundary. Cross-context access is governed separately by sharing
// rules and the hard cross-user invariant.
type Permissions struct {
	Read       bool `json:"read"`
	Write      bool `json:"write"`
	Delete     bool `json:"delete"`
	Share      bool `json:"share"`
	CrossAgent bool `json:"cross_agent"`
}

// DefaultPermissions grants a context full access to its own boundary and
// same-user cross-agent reads.
func DefaultPermissions() Permissions {
	return Permissions{Read: true, Write: true, Delete: true, Share: true, CrossAgent: true}
}

// IsolationContext is one scoped access boundary, derived deterministically
// from (agentID, userID, optional threadID).
type IsolationContext struct {
	ID           string      `json:"id"`
	AgentID      int64       `json:"agent_id"`
	UserID       string      `json:"user_id"`
	ThreadID     string      `json:"thread_id,omitempty"`
	Permissions  Permissions `json:"permissions"`
	AccessCount  int64       `json:"access_count"`
	CreatedAt    time.Time   `json:"created_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	Contaminated bool        `json:"contaminated,omitempty"`
}

// IsolationKey derives the deterministic context key.
func IsolationKey(agentID int64, userID, threadID string) string {
	if threadID == "" {
		return fmt.Sprintf("agent:%d:user:%s", agentID, userID)
	}
	return fmt.Sprintf("agent:%d:user:%s:thread:%s", agentID, userID, threadID)
}

// AccessDecision is the structured result of an isolation check.
// Denials are values, not errors; the reason is always populated on deny.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns a passing decision.
func Allow() AccessDecision { return AccessDecision{Allowed: true} }

// Deny returns a failing decision with a reason.
func Deny(reason string) AccessDecision { return AccessDecision{Allowed: false, Reason: reason} }

// AuditEntry is an immutable record of one access decision.
type AuditEntry struct {
	ID              string    `json:"id"`
	ContextID       string    `json:"context_id"`
	TargetContextID string    `json:"target_context_id,omitempty"`
	Operation       string    `json:"operation"`
	Check           string    `json:"check"`
	Allowed         bool      `json:"allowed"`
	Reason          string    `json:"reason,omitempty"`
	CrossContext    bool      `json:"cross_context,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// SharingRule is an explicit, time-boundable grant (or denial) between two
// isolation contexts, consulted during cross-context validation.
type SharingRule struct {
	ID            string     `json:"id"`
	AgentID       int64      `json:"agent_id"`
	UserID        string     `json:"user_id"`
	FromContextID string     `json:"from_context_id"`
	ToContextID   string     `json:"to_context_id"`
	Operations    []string   `json:"operations,omitempty"`
	Allow         bool       `json:"allow"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the rule is past its expiry at the given time.
func (r SharingRule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// AppliesTo reports whether the rule covers the given operation. An empty
// operation list covers every operation.
func (r SharingRule) AppliesTo(operation string) bool {
	if len(r.Operations) == 0 {
		return true
	}
	for _, op := range r.Operations {
		if op == operation {
			return true
		}
	}
	return false
}
