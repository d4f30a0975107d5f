// Package workspace provisions per-chunk isolation for the DAG scheduler
// under each of the three WorkspaceStrategy values a plan can declare.
// Grounded on internal/links/runner.go for the
// exec.CommandContext idiom used to shell out to git, generalized here to
// drive `git worktree add`/`git worktree remove` instead of a link-handler
// CLI.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/deskpilot/orchestrator/internal/dag"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Provisioner implements dag.WorkspaceProvisioner over a single repository
// root, dispatching to a strategy-specific acquisition method.
type Provisioner struct {
	repoRoot string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-file advisory locks for WorkspaceFileLocking
}

// New creates a Provisioner rooted at repoRoot. The InMemory strategy hands
// out repoRoot itself as the workspace path, creating and locking nothing.
func New(repoRoot string) *Provisioner {
	return &Provisioner{
		repoRoot: repoRoot,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Acquire provisions a Workspace for chunk under strategy.
func (p *Provisioner) Acquire(ctx context.Context, chunk *orch.WorkChunk, strategy orch.WorkspaceStrategy) (dag.Workspace, error) {
	switch strategy {
	case orch.WorkspaceGitWorktree:
		return p.acquireWorktree(ctx, chunk)
	case orch.WorkspaceFileLocking:
		return p.acquireFileLock(chunk)
	case orch.WorkspaceInMemory, "":
		return dag.Workspace{Path: p.repoRoot, Release: func() {}}, nil
	default:
		return dag.Workspace{}, fmt.Errorf("workspace: unknown strategy %q", strategy)
	}
}

// acquireWorktree creates a dedicated git worktree and branch for chunk so
// its writes never collide with a sibling chunk's, removing both on
// release.
func (p *Provisioner) acquireWorktree(ctx context.Context, chunk *orch.WorkChunk) (dag.Workspace, error) {
	branch := fmt.Sprintf("chunk/%s", chunk.ID)
	path := filepath.Join(p.repoRoot, ".worktrees", chunk.ID)

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = p.repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return dag.Workspace{}, fmt.Errorf("workspace: git worktree add failed: %w: %s", err, out)
	}

	release := func() {
		rm := exec.Command("git", "worktree", "remove", "--force", path)
		rm.Dir = p.repoRoot
		_ = rm.Run()
		del := exec.Command("git", "branch", "-D", branch)
		del.Dir = p.repoRoot
		_ = del.Run()
	}

	return dag.Workspace{Path: path, Release: release}, nil
}

// acquireFileLock takes a coarse advisory lock keyed by the chunk's working
// scope, so two chunks touching the same file tree serialize instead of
// racing, without the overhead of a dedicated worktree each.
func (p *Provisioner) acquireFileLock(chunk *orch.WorkChunk) (dag.Workspace, error) {
	key := chunk.WorkingScope
	if key == "" {
		key = "default"
	}

	p.mu.Lock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	path := filepath.Join(p.repoRoot, chunk.WorkingScope)
	if path == p.repoRoot {
		path = p.repoRoot
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		lock.Unlock()
		return dag.Workspace{}, fmt.Errorf("workspace: failed to prepare scope %q: %w", key, err)
	}

	return dag.Workspace{Path: path, Release: lock.Unlock}, nil
}
