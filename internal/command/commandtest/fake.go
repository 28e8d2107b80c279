// Package commandtest provides a scriptable command.Runner for tests.
package commandtest

import (
	"context"
	"sync"

	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
)

// HandlerFunc answers one invocation.
type HandlerFunc func(ctx context.Context, inv command.Invocation) (*command.Output, error)

// Runner records invocations and delegates to Handler. It is safe for
// concurrent use.
type Runner struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []command.Invocation
}

// Run implements command.Runner.
func (r *Runner) Run(ctx context.Context, inv command.Invocation) (*command.Output, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	if r.Handler == nil {
		return &command.Output{}, nil
	}
	return r.Handler(ctx, inv)
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []command.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Invocation(nil), r.calls...)
}

// Subcommand returns the first argument after the program prefix of length
// n, e.g. "pack" for ["npm", "pack", ...] with n = 1.
func Subcommand(inv command.Invocation, n int) string {
	if len(inv.Args) <= n {
		return ""
	}
	return inv.Args[n]
}

// Ok returns a successful output with the given stdout.
func Ok(stdout string) *command.Output {
	return &command.Output{Stdout: stdout}
}

// Fail returns a failed output with the given exit code and stderr.
func Fail(code int, stderr string) *command.Output {
	return &command.Output{ExitCode: code, Stderr: stderr}
}
