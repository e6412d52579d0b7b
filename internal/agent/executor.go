// Package agent spawns the external coding agent process once per cycle and
// classifies its outcome.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// DefaultBinary is the agent executable looked up on PATH.
const DefaultBinary = "agent"

// Result holds the outcome of a single agent invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Succeeded reports whether the invocation counts as a successful cycle.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// CommandFactory builds an *exec.Cmd for the given context, working
// directory, and arguments. The default factory uses exec.CommandContext
// with DefaultBinary. Tests inject a factory that invokes a helper process
// instead.
type CommandFactory func(ctx context.Context, workDir string, args ...string) *exec.Cmd

// defaultCommandFactory creates a real agent command.
func defaultCommandFactory(ctx context.Context, workDir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, DefaultBinary, args...)
	cmd.Dir = workDir
	return cmd
}

// options holds optional configuration for Run.
type options struct {
	commandFactory CommandFactory
	output         io.Writer
	usePTY         bool
}

// Option configures Run behaviour.
type Option func(*options)

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(o *options) { o.commandFactory = f }
}

// WithOutput sets the writer that receives the agent's combined output as it
// is produced (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithPTY runs the agent under a pseudo-terminal. Agent CLIs commonly
// detect a pipe and buffer or suppress their streaming output; a PTY keeps
// it flowing line by line.
func WithPTY() Option {
	return func(o *options) { o.usePTY = true }
}

// Run invokes the agent with the prompt artifact as its sole required input
// ("agent -p <promptPath>") and streams its combined stdout+stderr to the
// configured output writer while it runs.
//
// There is deliberately no timeout: the agent may legitimately run for a
// long time and duration is purely observational. Cancelling ctx kills the
// process. A non-zero exit is not an error here; it is returned in the
// Result for the caller to classify. The returned error covers launch
// failures only.
func Run(ctx context.Context, workDir, promptPath string, opts ...Option) (*Result, error) {
	cfg := options{
		commandFactory: defaultCommandFactory,
		output:         os.Stdout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	args := []string{"-p", promptPath}
	cmd := cfg.commandFactory(ctx, workDir, args...)

	start := time.Now()
	var err error
	if cfg.usePTY {
		err = runPTY(cmd, cfg.output)
	} else {
		cmd.Stdout = cfg.output
		cmd.Stderr = cfg.output
		err = cmd.Run()
	}
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run agent: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// runPTY starts cmd attached to a pseudo-terminal and drains its output into
// w until the process exits.
func runPTY(cmd *exec.Cmd, w io.Writer) error {
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("starting agent under pty: %w", err)
	}
	// The copy ends with EIO when the child closes its side; that is the
	// normal shutdown path, not a failure.
	_, _ = io.Copy(w, f)
	f.Close()
	return cmd.Wait()
}
