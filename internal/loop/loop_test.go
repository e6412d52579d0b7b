package loop

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devloop/internal/agent"
	"devloop/internal/ledger"
	"devloop/internal/logbook"
)

// testEnv bundles a temp working tree with an open logger and hook counters.
type testEnv struct {
	dir     string
	logPath string
	console *bytes.Buffer
	log     *logbook.Logger

	initCalls   int
	commitCalls int
	reportCalls int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		logPath: filepath.Join(dir, "devloop.log"),
		console: &bytes.Buffer{},
	}
	var err error
	env.log, err = logbook.Open(env.logPath, env.console)
	if err != nil {
		t.Fatalf("opening logbook: %v", err)
	}
	t.Cleanup(func() { env.log.Close() })
	return env
}

// config builds a loop Config with all collaborators replaced by hooks, so
// no git or agent binary is involved.
func (e *testEnv) config(maxLoops int, execute func(ctx context.Context, promptPath string) (*agent.Result, error)) Config {
	return Config{
		WorkDir:    e.dir,
		PromptPath: "PROMPT.md",
		LogPath:    e.logPath,
		DocsDir:    filepath.Join(e.dir, "docs"),
		MaxLoops:   maxLoops,
		Delay:      0,
		Log:        e.log,
		Execute:    execute,
		EnsureInit: func() (bool, error) {
			e.initCalls++
			return e.initCalls == 1, nil
		},
		Commit: func() (bool, error) {
			e.commitCalls++
			return false, nil
		},
		Report: func() { e.reportCalls++ },
	}
}

// staticExecute returns the same result for every cycle.
func staticExecute(exitCode int) func(ctx context.Context, promptPath string) (*agent.Result, error) {
	return func(ctx context.Context, promptPath string) (*agent.Result, error) {
		return &agent.Result{ExitCode: exitCode, Duration: time.Second}, nil
	}
}

// exitSequence returns the configured exit codes cycle by cycle.
func exitSequence(codes ...int) func(ctx context.Context, promptPath string) (*agent.Result, error) {
	i := 0
	return func(ctx context.Context, promptPath string) (*agent.Result, error) {
		code := codes[i]
		i++
		return &agent.Result{ExitCode: code, Duration: time.Second}, nil
	}
}

func ledgerLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading ledger %s: %v", path, err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestRun_AllCyclesSucceed(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(3, staticExecute(0))

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Cycles != 3 || summary.Succeeded != 3 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 3/3/0", summary)
	}
	if summary.StopReason != StopCompleted {
		t.Errorf("stop reason = %v, want completed", summary.StopReason)
	}

	books := ledger.ForLog(env.logPath)
	if got := ledgerLines(t, books.SuccessPath); len(got) != 3 {
		t.Errorf("success ledger has %d records, want 3: %v", len(got), got)
	}
	if got := ledgerLines(t, books.ErrorPath); len(got) != 0 {
		t.Errorf("error ledger has %d records, want 0: %v", len(got), got)
	}
	if env.reportCalls != 1 {
		t.Errorf("report called %d times, want 1", env.reportCalls)
	}
	if env.commitCalls != 3 {
		t.Errorf("commit called %d times, want once per cycle (3)", env.commitCalls)
	}
}

func TestRun_MixedOutcomes(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(3, exitSequence(1, 0, 2))

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded != 1 || summary.Failed != 2 {
		t.Errorf("summary = %+v, want 1 succeeded, 2 failed", summary)
	}

	books := ledger.ForLog(env.logPath)
	successes := ledgerLines(t, books.SuccessPath)
	failures := ledgerLines(t, books.ErrorPath)

	if len(successes) != 1 || !strings.Contains(successes[0], "cycle 2") {
		t.Errorf("success ledger = %v, want one record for cycle 2", successes)
	}
	if len(failures) != 2 {
		t.Fatalf("error ledger = %v, want records for cycles 1 and 3", failures)
	}
	if !strings.Contains(failures[0], "cycle 1") || !strings.Contains(failures[1], "cycle 3") {
		t.Errorf("error ledger records out of order: %v", failures)
	}

	// Tally invariant: every completed cycle has exactly one record.
	if len(successes)+len(failures) != summary.Cycles {
		t.Errorf("ledger records = %d, want %d (one per completed cycle)",
			len(successes)+len(failures), summary.Cycles)
	}
}

func TestRun_LaunchFailureCountsAsFailedCycle(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	cfg := env.config(2, func(ctx context.Context, promptPath string) (*agent.Result, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("agent vanished")
		}
		return &agent.Result{ExitCode: 0}, nil
	})

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v, want 1 failed then 1 succeeded", summary)
	}

	books := ledger.ForLog(env.logPath)
	if got := ledgerLines(t, books.ErrorPath); len(got) != 1 || !strings.Contains(got[0], "cycle 1") {
		t.Errorf("error ledger = %v, want one record for cycle 1", got)
	}
}

func TestRun_InitFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	executed := false
	cfg := env.config(3, func(ctx context.Context, promptPath string) (*agent.Result, error) {
		executed = true
		return &agent.Result{}, nil
	})
	cfg.EnsureInit = func() (bool, error) {
		return false, errors.New("disk full")
	}

	_, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("Run succeeded despite bootstrap failure")
	}
	if executed {
		t.Error("cycles ran after bootstrap failure")
	}
	if env.reportCalls != 0 {
		t.Error("report ran after bootstrap failure")
	}
}

func TestRun_CommitFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(2, staticExecute(0))
	cfg.Commit = func() (bool, error) {
		return false, errors.New("index locked")
	}

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Cycles != 2 {
		t.Errorf("cycles = %d, want 2 despite commit failures", summary.Cycles)
	}
	if !strings.Contains(env.console.String(), "commit failed") {
		t.Error("commit failure not logged")
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(5, staticExecute(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Cycles != 0 {
		t.Errorf("cycles = %d, want 0", summary.Cycles)
	}
	if summary.StopReason != StopInterrupted {
		t.Errorf("stop reason = %v, want interrupted", summary.StopReason)
	}
	if env.reportCalls != 1 {
		t.Errorf("report called %d times, want exactly 1 even when interrupted", env.reportCalls)
	}
}

func TestRun_InterruptedMidCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := env.config(5, func(ctx context.Context, promptPath string) (*agent.Result, error) {
		calls++
		if calls == 3 {
			// Signal arrives while the agent is running; the cycle never
			// completes.
			cancel()
		}
		return &agent.Result{ExitCode: 0, Duration: time.Second}, nil
	})

	summary, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Cycles != 2 {
		t.Errorf("completed cycles = %d, want 2 (third was interrupted)", summary.Cycles)
	}
	if summary.StopReason != StopInterrupted {
		t.Errorf("stop reason = %v, want interrupted", summary.StopReason)
	}

	// The interrupted cycle leaves no ledger record.
	books := ledger.ForLog(env.logPath)
	total := len(ledgerLines(t, books.SuccessPath)) + len(ledgerLines(t, books.ErrorPath))
	if total != 2 {
		t.Errorf("ledger records = %d, want 2", total)
	}
	if env.reportCalls != 1 {
		t.Errorf("report called %d times, want exactly 1", env.reportCalls)
	}
}

func TestRun_InterruptedDuringDelay(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	cfg := env.config(5, staticExecute(0))
	cfg.Delay = 10 * time.Second
	cfg.Commit = func() (bool, error) {
		// Cancel once the first cycle is fully recorded; the loop should
		// abandon the delay promptly.
		cancel()
		return false, nil
	}

	start := time.Now()
	summary, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("interrupted delay took %s", elapsed)
	}
	if summary.Cycles != 1 || summary.StopReason != StopInterrupted {
		t.Errorf("summary = %+v, want 1 cycle, interrupted", summary)
	}
}

func TestRun_ClearsStatusFile(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(1, staticExecute(0))

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(env.dir, StatusFileName)); !os.IsNotExist(err) {
		t.Error("status file left behind after run")
	}
}

func TestRun_LogsSummary(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(2, exitSequence(0, 1))

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := env.console.String()
	for _, want := range []string{"Loop complete:", "1 cycle(s) succeeded", "1 cycle(s) failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("console missing %q:\n%s", want, got)
		}
	}
}

func TestSleep(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Error("full delay reported as interrupted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Error("cancelled sleep reported as completed")
	}
}

func TestStopReason_String(t *testing.T) {
	if got := StopCompleted.String(); got != "completed" {
		t.Errorf("StopCompleted = %q", got)
	}
	if got := StopInterrupted.String(); got != "interrupted" {
		t.Errorf("StopInterrupted = %q", got)
	}
}
