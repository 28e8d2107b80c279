package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"
)

// waitDelay bounds how long Run waits for output pipes after the process
// has been killed by its context.
const waitDelay = 5 * time.Second

// Invocation describes one external command.
type Invocation struct {
	Args []string // Args[0] is the program
	Dir  string   // working directory; empty means the current one
	Env  []string // KEY=VALUE entries added on top of the process environment
}

// String renders the invocation for logs. Env is omitted because it may
// carry credentials.
func (inv Invocation) String() string {
	return strings.Join(inv.Args, " ")
}

// Output captures the result of a command.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	if o == nil {
		return ""
	}
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	}
	return o.Stdout + "\n" + o.Stderr
}

// LastLine returns the last non-empty line of stdout.
func (o *Output) LastLine() string {
	if o == nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(o.Stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// Runner executes an Invocation. A non-zero exit is reported through
// Output.ExitCode with a nil error; the error is reserved for failures to
// start the program and for context cancellation or deadline expiry, which
// wrap ctx.Err().
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *log.Logger
}

// Run executes inv and captures its output.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Output, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	bin, err := exec.LookPath(inv.Args[0])
	if err != nil {
		return nil, fmt.Errorf("locating %s: %w", inv.Args[0], err)
	}

	cmd := exec.CommandContext(ctx, bin, inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if r.Logger != nil {
		r.Logger.Debug("exec", "cmd", inv.String(), "dir", inv.Dir)
	}
	started := time.Now()
	err = cmd.Run()

	output := &Output{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	// A killed process surfaces as an ExitError; report the deadline instead.
	if ctxErr := ctx.Err(); ctxErr != nil {
		output.ExitCode = -1
		return output, fmt.Errorf("running %s after %s: %w", inv.Args[0], time.Since(started).Round(time.Millisecond), ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output.ExitCode = exitErr.ExitCode()
			return output, nil
		}
		return output, fmt.Errorf("running %s: %w", inv.Args[0], err)
	}

	output.ExitCode = 0
	return output, nil
}

// Program is a command prefix such as ["npm"] or ["npx", "-y", "npm@10"].
type Program []string

// ParseProgram splits a configured command line into words using POSIX shell
// quoting rules. Environment references are expanded; command substitution
// and other shell features are rejected.
func ParseProgram(line string) (Program, error) {
	fields, err := shell.Fields(line, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parsing command %q: %w", line, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("parsing command %q: no program given", line)
	}
	return Program(fields), nil
}

// With returns the program followed by args, without aliasing p.
func (p Program) With(args ...string) []string {
	out := make([]string, 0, len(p)+len(args))
	out = append(out, p...)
	return append(out, args...)
}
