// Package loop drives the bounded run/commit/record cycle sequence.
//
// One cycle is: invoke the agent with the fixed prompt artifact, classify
// the outcome into the success or error ledger, snapshot any working-tree
// changes as a commit, then delay. The loop runs cycles strictly
// sequentially from 1 to MaxLoops; an interrupt at any suspension point
// diverts to the same finalize path normal completion uses, so the
// statistics report always runs exactly once before return.
//
// All external collaborators are nil-able hooks on Config for testing:
// Execute, EnsureInit, Commit, Report.
package loop

import (
	"context"
	"fmt"
	"os"
	"time"

	"devloop/internal/agent"
	"devloop/internal/gitrepo"
	"devloop/internal/ledger"
	"devloop/internal/logbook"
	"devloop/internal/stats"
	"devloop/internal/trace"
)

// StopReason indicates why the loop terminated.
type StopReason int

const (
	StopCompleted   StopReason = iota // All configured cycles executed.
	StopInterrupted                   // Shutdown signal observed.
)

// String returns a human-readable label for the stop reason.
func (r StopReason) String() string {
	switch r {
	case StopInterrupted:
		return "interrupted"
	default:
		return "completed"
	}
}

// Config configures one supervised run. It is constructed once at startup
// and never mutated afterwards.
type Config struct {
	WorkDir    string
	PromptPath string
	LogPath    string
	DocsDir    string
	MaxLoops   int
	Delay      time.Duration
	UsePTY     bool

	// Log receives every message and the raw agent output. Required.
	Log *logbook.Logger

	// Tracer emits a span per cycle; nil disables tracing.
	Tracer *trace.CycleTracer

	// Test hooks — nil means use the real implementations.
	Execute    func(ctx context.Context, promptPath string) (*agent.Result, error)
	EnsureInit func() (created bool, err error)
	Commit     func() (committed bool, err error)
	Report     func()
}

// Summary holds aggregate results across all cycles.
type Summary struct {
	Cycles     int
	Succeeded  int
	Failed     int
	StopReason StopReason
	Duration   time.Duration
}

// Run executes the supervised loop: one-time repository bootstrap, then
// MaxLoops cycles of agent-run, outcome recording and snapshot commit, with
// the configured delay between cycles (skipped after the last one).
//
// A cancelled ctx at any suspension point stops further work and goes
// straight to finalize. Repository bootstrap failure is the only fatal
// error; every per-cycle error is absorbed into the ledgers and logs.
func Run(ctx context.Context, cfg Config) (*Summary, error) {
	loopStart := time.Now()

	// Resolve hooks.
	repo := gitrepo.New(cfg.WorkDir)
	ensureInit := cfg.EnsureInit
	if ensureInit == nil {
		ensureInit = repo.EnsureInitialized
	}
	commit := cfg.Commit
	if commit == nil {
		commit = repo.CommitIfChanged
	}
	execute := cfg.Execute
	if execute == nil {
		execute = func(ctx context.Context, promptPath string) (*agent.Result, error) {
			opts := []agent.Option{agent.WithOutput(cfg.Log.Stream())}
			if cfg.UsePTY {
				opts = append(opts, agent.WithPTY())
			}
			return agent.Run(ctx, cfg.WorkDir, promptPath, opts...)
		}
	}
	report := cfg.Report
	if report == nil {
		report = func() {
			s := stats.Collect(cfg.LogPath, cfg.DocsDir)
			fmt.Fprintln(os.Stdout, s.Render(cfg.Log.Styles()))
		}
	}

	books := ledger.ForLog(cfg.LogPath)
	statusWriter := NewStatusWriter(cfg.WorkDir)
	defer statusWriter.Clear()

	summary := &Summary{StopReason: StopCompleted}

	writeStatus := func(state string, cycle int) {
		st := Status{
			State:    state,
			Cycle:    cycle,
			MaxLoops: cfg.MaxLoops,
			Elapsed:  time.Since(loopStart).Nanoseconds(),
		}
		st.Tallies.Succeeded = summary.Succeeded
		st.Tallies.Failed = summary.Failed
		if state == "completed" {
			st.StopReason = summary.StopReason.String()
		}
		_ = statusWriter.Write(st) // best effort; never fails the loop
	}

	// finalize is the single terminal path, reached by loop exhaustion and
	// by interruption alike.
	finalize := func() {
		summary.Duration = time.Since(loopStart)
		writeStatus("completed", summary.Cycles)
		cfg.Log.Info("%s", formatSummary(summary))
		report()
	}

	writeStatus("initializing", 0)
	created, err := ensureInit()
	if err != nil {
		// No audit trail, no cycles. This is the one fatal path.
		return nil, fmt.Errorf("repository bootstrap: %w", err)
	}
	if created {
		cfg.Log.Info("initialized repository with initial snapshot commit")
	} else {
		cfg.Log.Info("repository already initialized")
	}

	for i := 1; i <= cfg.MaxLoops; i++ {
		if ctx.Err() != nil {
			summary.StopReason = StopInterrupted
			break
		}

		writeStatus("running", i)
		cfg.Log.Info("cycle %d/%d: invoking agent", i, cfg.MaxLoops)

		cctx, span := cfg.Tracer.StartCycle(ctx, i)
		result, execErr := execute(cctx, cfg.PromptPath)

		exitCode := -1
		var dur time.Duration
		succeeded := false
		if execErr == nil {
			exitCode = result.ExitCode
			dur = result.Duration
			succeeded = result.Succeeded()
		}

		// A signal during the blocking agent run means the cycle did not
		// complete: record nothing for it and finish no further work.
		if ctx.Err() != nil {
			trace.EndCycle(span, "interrupted", exitCode, dur)
			cfg.Log.Warn("cycle %d/%d: interrupted", i, cfg.MaxLoops)
			summary.StopReason = StopInterrupted
			break
		}

		summary.Cycles++
		if succeeded {
			summary.Succeeded++
			cfg.Log.Success("%s", formatCycleLog(i, cfg.MaxLoops, true, 0, dur))
			if lerr := books.AppendSuccess(i, dur); lerr != nil {
				cfg.Log.Error("cycle %d: recording success: %v", i, lerr)
			}
			trace.EndCycle(span, "success", exitCode, dur)
		} else {
			summary.Failed++
			if execErr != nil {
				cfg.Log.Error("cycle %d/%d: agent failed to run: %v", i, cfg.MaxLoops, execErr)
			} else {
				cfg.Log.Error("%s", formatCycleLog(i, cfg.MaxLoops, false, exitCode, dur))
			}
			if lerr := books.AppendError(i); lerr != nil {
				cfg.Log.Error("cycle %d: recording failure: %v", i, lerr)
			}
			trace.EndCycle(span, "failure", exitCode, dur)
		}

		// Commit runs unconditionally, after failed cycles too: a failed
		// agent may still have touched the tree.
		committed, cerr := commit()
		switch {
		case cerr != nil:
			// Lenient on purpose: uncommitted changes roll into the next
			// cycle's commit attempt.
			cfg.Log.Error("cycle %d: commit failed: %v", i, cerr)
		case committed:
			cfg.Log.Info("cycle %d: changes committed", i)
		default:
			cfg.Log.Info("cycle %d: no changes to commit", i)
		}

		if i < cfg.MaxLoops {
			writeStatus("delaying", i)
			if !sleep(ctx, cfg.Delay) {
				summary.StopReason = StopInterrupted
				break
			}
		}
	}

	finalize()
	return summary, nil
}

// sleep waits for d unless ctx is cancelled first; reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
