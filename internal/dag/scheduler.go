package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskpilot/orchestrator/internal/concurrency"
	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/internal/metrics"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

var tracer = otel.Tracer("github.com/deskpilot/orchestrator/internal/dag")

// ErrAborted is returned by Execute when abortFailureThreshold is reached
// and remaining stages are skipped.
var ErrAborted = fmt.Errorf("dag: aborted after reaching failure threshold")

// Workspace is what a chunk execution receives once its isolation strategy
// has provisioned it: a filesystem path (or equivalent token for InMemory)
// and a release function to call when the chunk finishes, success or not.
type Workspace struct {
	Path    string
	Release func()
}

// WorkspaceProvisioner acquires a Workspace for a chunk under the plan's
// WorkspaceStrategy. Strategy-specific behavior — a dedicated git worktree
// branch, a coarse per-file advisory lock, or a no-op for read-only
// InMemory analysis — is the provisioner's concern, not the scheduler's.
type WorkspaceProvisioner interface {
	Acquire(ctx context.Context, chunk *orch.WorkChunk, strategy orch.WorkspaceStrategy) (Workspace, error)
}

// ChunkRunner executes one chunk attempt and returns its result text or an
// error. injectedPrompt, when non-empty, is instructions queued since the
// last stage boundary and must be prepended to the chunk's system prompt.
type ChunkRunner func(ctx context.Context, chunk *orch.WorkChunk, workspace Workspace, injectedPrompt string) (string, error)

// Config configures a Scheduler's concurrency and retry behavior.
type Config struct {
	MaxParallel           int
	MaxRetriesPerChunk    int
	RetryDelay            time.Duration
	AbortFailureThreshold int
}

// DefaultConfig returns the spec defaults: 5-way parallelism, 2 retries per
// chunk with a 5s delay, aborting after 3 total chunk failures.
func DefaultConfig() Config {
	return Config{
		MaxParallel:           5,
		MaxRetriesPerChunk:    2,
		RetryDelay:            5 * time.Second,
		AbortFailureThreshold: 3,
	}
}

// Scheduler runs an OrchestrationPlan's chunks stage by stage, bounded by a
// global concurrency semaphore, retrying failed chunks with reprompt-on-
// retry and aborting once too many chunks have failed outright.
type Scheduler struct {
	cfg     Config
	sem     *concurrency.Semaphore
	emitter *eventbus.Emitter
	logger  *slog.Logger

	mu       sync.Mutex
	injected []string
}

// New creates a Scheduler. emitter may be nil to suppress event emission
// (useful in tests).
func New(cfg Config, emitter *eventbus.Emitter, logger *slog.Logger) *Scheduler {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 5
	}
	if cfg.MaxRetriesPerChunk < 0 {
		cfg.MaxRetriesPerChunk = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.AbortFailureThreshold <= 0 {
		cfg.AbortFailureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default().With("component", "dag-scheduler")
	}
	return &Scheduler{
		cfg:     cfg,
		sem:     concurrency.NewSemaphore(int64(cfg.MaxParallel)),
		emitter: emitter,
		logger:  logger,
	}
}

// SemaphoreStats returns the scheduler's bounded-concurrency pool's current
// statistics, for polling into internal/metrics.
func (s *Scheduler) SemaphoreStats() concurrency.SemaphoreStats {
	return s.sem.Stats()
}

// Inject queues an instruction to be prepended to every remaining chunk's
// prompt at the next stage boundary. The orchestrator's own context absorbs
// an injection immediately and does not go through this queue.
func (s *Scheduler) Inject(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = append(s.injected, text)
}

func (s *Scheduler) drainInjections() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.injected) == 0 {
		return ""
	}
	var joined string
	for i, text := range s.injected {
		if i > 0 {
			joined += "\n"
		}
		joined += text
	}
	s.injected = nil
	return joined
}

// Execute lays out plan's chunks into dependency-respecting stages and runs
// each stage's chunks concurrently, up to cfg.MaxParallel at a time. It
// returns a *CyclicDependencyError if the plan's dependencies don't form a
// DAG, or ErrAborted if cfg.AbortFailureThreshold chunk failures accumulate
// before every stage completes.
func (s *Scheduler) Execute(ctx context.Context, plan *orch.OrchestrationPlan, strategy orch.WorkspaceStrategy, provisioner WorkspaceProvisioner, run ChunkRunner) error {
	byID := make(map[string]*orch.WorkChunk, len(plan.Chunks))
	ids := make([]string, 0, len(plan.Chunks))
	dependsOn := make(map[string][]string, len(plan.Chunks))
	for i := range plan.Chunks {
		c := &plan.Chunks[i]
		byID[c.ID] = c
		ids = append(ids, c.ID)
		dependsOn[c.ID] = c.DependsOn
	}

	stages, err := BuildStages(ids, dependsOn)
	if err != nil {
		return err
	}
	plan.Stages = stages

	var totalFailures int64
	var injectedPrompt string

	for stageIdx, stage := range stages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stageCtx, stageSpan := tracer.Start(ctx, "dag.stage", trace.WithAttributes(
			attribute.Int("dag.stage_index", stageIdx),
			attribute.Int("dag.stage_size", len(stage)),
		))

		if drained := s.drainInjections(); drained != "" {
			if injectedPrompt != "" {
				injectedPrompt += "\n"
			}
			injectedPrompt += drained
		}

		var wg sync.WaitGroup
		for _, id := range stage {
			chunk := byID[id]
			wg.Add(1)
			go func(chunk *orch.WorkChunk) {
				defer wg.Done()
				if err := s.sem.Acquire(stageCtx, 1); err != nil {
					chunk.Status = orch.ChunkCancelled
					return
				}
				defer s.sem.Release(1)

				if err := s.runWithRetry(stageCtx, chunk, strategy, provisioner, run, injectedPrompt); err != nil {
					atomic.AddInt64(&totalFailures, 1)
				}
			}(chunk)
		}
		wg.Wait()
		stageSpan.End()

		if int(atomic.LoadInt64(&totalFailures)) >= s.cfg.AbortFailureThreshold {
			s.logger.Warn("aborting remaining stages", "failures", totalFailures, "threshold", s.cfg.AbortFailureThreshold)
			return ErrAborted
		}
	}

	return nil
}

func (s *Scheduler) runWithRetry(ctx context.Context, chunk *orch.WorkChunk, strategy orch.WorkspaceStrategy, provisioner WorkspaceProvisioner, run ChunkRunner, injectedPrompt string) error {
	ctx, chunkSpan := tracer.Start(ctx, "dag.chunk", trace.WithAttributes(
		attribute.String("dag.chunk_id", chunk.ID),
		attribute.String("dag.chunk_title", chunk.Title),
	))
	defer chunkSpan.End()

	var workspace Workspace
	if provisioner != nil {
		ws, err := provisioner.Acquire(ctx, chunk, strategy)
		if err != nil {
			chunk.Status = orch.ChunkFailed
			chunk.Result = fmt.Sprintf("workspace acquisition failed: %v", err)
			return err
		}
		workspace = ws
		defer func() {
			if workspace.Release != nil {
				workspace.Release()
			}
		}()
	}

	prompt := injectedPrompt
	chunk.Status = orch.ChunkRunning
	chunk.StartedAt = time.Now()

	if s.emitter != nil {
		s.emitter.WorkerStarted(ctx, chunk.ID)
	}

	maxAttempts := s.cfg.MaxRetriesPerChunk + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		chunk.RetryCount = attempt - 1

		result, err := run(ctx, chunk, workspace, prompt)
		if err == nil {
			chunk.Status = orch.ChunkCompleted
			chunk.Result = result
			chunk.EndedAt = time.Now()
			if s.emitter != nil {
				s.emitter.WorkerCompleted(ctx, chunk.ID)
			}
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			chunk.Status = orch.ChunkCancelled
			chunk.EndedAt = time.Now()
			return ctx.Err()
		}

		if attempt < maxAttempts {
			if s.emitter != nil {
				s.emitter.WorkerRetrying(ctx, chunk.ID, attempt)
			}
			metrics.IncRetry("dag_chunk")
			prompt = reprompt(injectedPrompt, err)

			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				chunk.Status = orch.ChunkCancelled
				chunk.EndedAt = time.Now()
				return ctx.Err()
			}
		}
	}

	chunk.Status = orch.ChunkFailed
	chunk.Result = lastErr.Error()
	chunk.EndedAt = time.Now()
	if s.emitter != nil {
		s.emitter.WorkerFailed(ctx, chunk.ID, lastErr)
	}
	return lastErr
}

func reprompt(injectedPrompt string, err error) string {
	note := fmt.Sprintf("Previous attempt failed with: %v. Adjust your approach accordingly.", err)
	if injectedPrompt == "" {
		return note
	}
	return injectedPrompt + "\n" + note
}
