package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskpilot/orchestrator/internal/backoff"
	"github.com/deskpilot/orchestrator/internal/circuit"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// DefaultTimeout is the per-call timeout applied when the caller passes
// zero, matching ToolExecConfig default (spec §4.4 specifies
// 3 minutes for this domain, not the reference implementation's 30 seconds).
const DefaultTimeout = 3 * time.Minute

// MaxOutputBytes bounds the output a ToolCallRecord carries (spec §4.4: 50
// KiB with a sentinel suffix).
const MaxOutputBytes = 50 * 1024

// TruncationSentinel is appended to output truncated at MaxOutputBytes.
const TruncationSentinel = "\n...[truncated]"

// Executor runs registered tools behind a timeout, a per-tool circuit
// breaker, and the configured retry policy. It never returns an error to
// the caller: every outcome, including cancellation and breaker rejection,
// is reported via ToolCallRecord.
type Executor struct {
	registry *Registry
	breakers *circuit.Registry
	policy   backoff.Policy
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor over registry, with one circuit breaker per tool
// name managed by breakers.
func New(registry *Registry, breakers *circuit.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		breakers: breakers,
		policy:   backoff.DefaultPolicy(),
		timeout:  DefaultTimeout,
		logger:   slog.Default().With("component", "tool-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteTool runs name with argsJSON, applying timeout (or the executor's
// default when timeout <= 0), the tool's circuit breaker, and retry.
func (e *Executor) ExecuteTool(ctx context.Context, name, argsJSON string, timeout time.Duration) orch.ToolCallRecord {
	start := time.Now()
	record := orch.ToolCallRecord{ToolName: name, Input: argsJSON}

	def, ok := e.registry.Get(name)
	if !ok {
		record.FailureCode = orch.FailureToolError
		record.Output = fmt.Sprintf("unknown tool %q", name)
		record.Duration = time.Since(start)
		return record
	}

	if err := e.registry.Validate(name, argsJSON); err != nil {
		record.FailureCode = orch.FailureToolError
		record.Output = err.Error()
		record.Duration = time.Since(start)
		return record
	}

	if timeout <= 0 {
		timeout = e.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breaker := e.breakers.Get(name)

	result, err := backoff.Execute(callCtx, e.policy, func(err error) bool {
		return !errors.Is(err, circuit.ErrOpen)
	}, func(attempt int) (string, error) {
		record.Attempts = attempt
		return circuit.ExecuteWithResult(breaker, callCtx, func(ctx context.Context) (string, error) {
			return def.Handler(ctx, argsJSON)
		})
	})

	record.Duration = time.Since(start)

	switch {
	case err == nil:
		record.Success = true
		record.Output = truncate(result.Value)
		return record

	case errors.Is(err, circuit.ErrOpen):
		record.FailureCode = orch.FailureCircuitOpen
		record.RetryAfter = breaker.RetryAfter()
		record.Output = fmt.Sprintf("circuit open for tool %q", name)
		return record

	case errors.Is(err, context.Canceled):
		record.FailureCode = orch.FailureCancelled
		record.Output = "cancelled"
		return record

	case errors.Is(err, context.DeadlineExceeded):
		record.FailureCode = orch.FailureTimeout
		record.Output = fmt.Sprintf("tool execution timed out after %s", timeout)
		return record

	default:
		record.FailureCode = orch.FailureToolError
		record.Output = truncate(err.Error())
		return record
	}
}

func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}
	return s[:MaxOutputBytes] + TruncationSentinel
}
