// Package tools registers the built-in tools a Team worker's brain may
// invoke through internal/executor's sandboxed executor. Grounded on
// internal/workspace/provisioner.go's exec.CommandContext idiom for
// shelling out, generalized from "drive git worktree add/remove" to "run an
// arbitrary command inside the worker's workspace path".
//
// A chunk's workspace root varies per call (each worker gets its own
// dag.Workspace), while the Executor and its circuit breakers are built
// once per brain so a tool's breaker state survives across chunks. The two
// are reconciled by carrying the root on the context rather than closing
// over it at registration time.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/deskpilot/orchestrator/internal/executor"
	"github.com/deskpilot/orchestrator/internal/llm"
)

type workspaceRootKey struct{}

// WithWorkspaceRoot attaches root to ctx for the handlers registered by
// Register to resolve relative paths and working directories against.
func WithWorkspaceRoot(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, workspaceRootKey{}, root)
}

func workspaceRoot(ctx context.Context) string {
	root, _ := ctx.Value(workspaceRootKey{}).(string)
	if root == "" {
		return "."
	}
	return root
}

// readFileArgs is the schema-validated input for the read_file tool.
type readFileArgs struct {
	Path string `json:"path"`
}

// runShellArgs is the schema-validated input for the run_shell tool.
type runShellArgs struct {
	Command string `json:"command"`
}

const readFileSchema = `{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`
const runShellSchema = `{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`

// Register adds read_file and run_shell to reg. Both resolve against the
// workspace root carried on each call's context by WithWorkspaceRoot;
// read_file refuses to escape that root via "..", and run_shell executes
// through "sh -c" with its working directory pinned to the root.
func Register(reg *executor.Registry) error {
	if err := reg.Register(executor.Definition{
		Name:            "read_file",
		Description:     "Read a UTF-8 text file relative to the worker's workspace.",
		ParameterSchema: json.RawMessage(readFileSchema),
		Handler:         readFileHandler,
	}); err != nil {
		return err
	}

	return reg.Register(executor.Definition{
		Name:            "run_shell",
		Description:     "Run a shell command inside the worker's workspace.",
		ParameterSchema: json.RawMessage(runShellSchema),
		Handler:         runShellHandler,
	})
}

func readFileHandler(ctx context.Context, argsJSON string) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("tools: read_file: %w", err)
	}
	resolved, err := resolveWithinRoot(workspaceRoot(ctx), args.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("tools: read_file: %w", err)
	}
	return string(data), nil
}

func runShellHandler(ctx context.Context, argsJSON string) (string, error) {
	var args runShellArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("tools: run_shell: %w", err)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
	cmd.Dir = workspaceRoot(ctx)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("tools: run_shell: %w", err)
	}
	return string(out), nil
}

func resolveWithinRoot(root, path string) (string, error) {
	joined := filepath.Join(root, path)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("tools: path %q escapes workspace root", path)
	}
	return joined, nil
}

// Definitions describes read_file and run_shell for a CompletionRequest's
// Tools field, independent of which Executor ultimately runs them.
func Definitions() []llm.Tool {
	return []llm.Tool{
		{Name: "read_file", Description: "Read a UTF-8 text file relative to the worker's workspace.", Schema: json.RawMessage(readFileSchema)},
		{Name: "run_shell", Description: "Run a shell command inside the worker's workspace.", Schema: json.RawMessage(runShellSchema)},
	}
}
