// Package approval implements the tool approval gate: wildcard allow/deny
// rules scoped to a single request, a session, or global, plus the
// synchronous approval dialog used when no rule resolves a decision.
// Adapted from internal/agent/approval.go — the pattern
// matching and policy-merge idioms are kept, but the policy shape is
// reworked around the three-tier rule scope (Once/Session/Global) and the
// fail-closed "dialog closed" behaviour this system requires instead of the
// teacher's allow/deny/safe-bin list shape.
package approval

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Decision is the outcome of evaluating or resolving an approval request.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Ask   Decision = "ask"
)

// Scope controls how long a remembered decision applies.
type Scope string

const (
	// ScopeOnce applies only to the single tool call that prompted it.
	ScopeOnce Scope = "once"
	// ScopeSession remembers the decision for the remaining lifetime of
	// the owning session.
	ScopeSession Scope = "session"
	// ScopeGlobal remembers the decision across every session handled by
	// this gate instance.
	ScopeGlobal Scope = "global"
)

// Rule is a single remembered decision for a tool name pattern. Pattern
// supports exact match, "prefix*", "*suffix", and "*" (match everything).
type Rule struct {
	Pattern  string
	Decision Decision
	Scope    Scope
	SetAt    time.Time
}

// PendingRequest is an approval request awaiting a synchronous answer from
// whatever is driving the dialog (a CLI prompt, a UI, a test harness).
type PendingRequest struct {
	ID         string
	SessionID  string
	ToolName   string
	ArgsJSON   string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResponseCh chan orch.ApprovalResponse
}

// Gate evaluates tool calls against remembered rules and, failing that,
// opens a synchronous dialog over the event bus.
type Gate struct {
	mu           sync.RWMutex
	sessionRules map[string][]Rule // sessionID -> rules
	globalRules  []Rule
	pending      map[string]*PendingRequest
	requestTTL   time.Duration
	dialogOpen   bool
}

// New creates a Gate. requestTTL bounds how long a pending request is kept
// before Prune discards it; zero selects a 5 minute default.
func New(requestTTL time.Duration) *Gate {
	if requestTTL <= 0 {
		requestTTL = 5 * time.Minute
	}
	return &Gate{
		sessionRules: make(map[string][]Rule),
		pending:      make(map[string]*PendingRequest),
		requestTTL:   requestTTL,
	}
}

// SetDialogOpen records whether a UI or CLI is attached to answer Ask
// decisions. When closed, Ask resolves to Deny rather than blocking
// forever, per the fail-closed requirement.
func (g *Gate) SetDialogOpen(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialogOpen = open
}

// Remember adds a rule at the given scope. A Once-scoped rule is a no-op:
// there is nothing to remember past the current call.
func (g *Gate) Remember(sessionID string, rule Rule) {
	if rule.Scope == ScopeOnce {
		return
	}
	rule.SetAt = time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	switch rule.Scope {
	case ScopeGlobal:
		g.globalRules = append(g.globalRules, rule)
	case ScopeSession:
		g.sessionRules[sessionID] = append(g.sessionRules[sessionID], rule)
	}
}

// Evaluate checks remembered rules for sessionID and toolName, most
// specific first (session rules before global rules, most recently set
// first). Returns Ask if nothing matches.
func (g *Gate) Evaluate(sessionID, toolName string) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if rules, ok := g.sessionRules[sessionID]; ok {
		if d, matched := matchRules(rules, toolName); matched {
			return d
		}
	}
	if d, matched := matchRules(g.globalRules, toolName); matched {
		return d
	}
	return Ask
}

func matchRules(rules []Rule, toolName string) (Decision, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		if matchesPattern(rules[i].Pattern, toolName) {
			return rules[i].Decision, true
		}
	}
	return "", false
}

// matchesPattern supports exact match, "prefix*", "*suffix", and "*".
func matchesPattern(pattern, toolName string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == toolName {
		return true
	}
	if strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		return strings.HasPrefix(toolName, pattern[:len(pattern)-1])
	}
	if strings.HasPrefix(pattern, "*") && len(pattern) > 1 {
		return strings.HasSuffix(toolName, pattern[1:])
	}
	return false
}

// RequestApproval evaluates rules first; on Ask it opens a synchronous
// dialog via the event emitter and blocks for a response, a context
// cancellation, or the request TTL, whichever comes first. A closed dialog
// fails closed: the request is denied with reason "dialog closed" rather
// than hanging.
func (g *Gate) RequestApproval(ctx context.Context, emitter *eventbus.Emitter, sessionID, requestID, toolName, argsJSON string) (Decision, string) {
	if d := g.Evaluate(sessionID, toolName); d != Ask {
		return d, "matched remembered rule"
	}

	g.mu.Lock()
	dialogOpen := g.dialogOpen
	g.mu.Unlock()

	if !dialogOpen {
		return Deny, "dialog closed"
	}

	responseCh := make(chan orch.ApprovalResponse, 1)
	now := time.Now()
	req := &PendingRequest{
		ID:         requestID,
		SessionID:  sessionID,
		ToolName:   toolName,
		ArgsJSON:   argsJSON,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.requestTTL),
		ResponseCh: responseCh,
	}

	g.mu.Lock()
	g.pending[requestID] = req
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
	}()

	emitter.ApprovalRequested(ctx, toolName, responseCh)

	timer := time.NewTimer(g.requestTTL)
	defer timer.Stop()

	select {
	case resp, ok := <-responseCh:
		if !ok {
			return Deny, "dialog closed"
		}
		decision := Deny
		if resp.Approved {
			decision = Allow
		}
		if resp.Remember {
			g.Remember(sessionID, Rule{Pattern: toolName, Decision: decision, Scope: Scope(resp.Scope)})
		}
		return decision, "resolved by dialog"

	case <-timer.C:
		return Deny, "approval request expired"

	case <-ctx.Done():
		return Deny, "context cancelled"
	}
}

// Resolve answers a pending request by ID, as an alternative entry point
// to pushing directly on the request's ResponseCh (used by transports that
// address requests by ID rather than holding the channel).
func (g *Gate) Resolve(requestID string, resp orch.ApprovalResponse) bool {
	g.mu.RLock()
	req, ok := g.pending[requestID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case req.ResponseCh <- resp:
		return true
	default:
		return false
	}
}

// Pending returns a snapshot of currently outstanding requests for
// sessionID, or every session if sessionID is empty.
func (g *Gate) Pending(sessionID string) []*PendingRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*PendingRequest
	for _, req := range g.pending {
		if sessionID == "" || req.SessionID == sessionID {
			out = append(out, req)
		}
	}
	return out
}

// Prune discards pending requests whose TTL has elapsed and returns the
// count removed.
func (g *Gate) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	var pruned int
	for id, req := range g.pending {
		if now.After(req.ExpiresAt) {
			close(req.ResponseCh)
			delete(g.pending, id)
			pruned++
		}
	}
	return pruned
}

// ClearSession drops every session-scoped rule for sessionID, called when a
// session terminates so rule maps do not grow unbounded.
func (g *Gate) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessionRules, sessionID)
}
