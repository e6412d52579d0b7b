// Command devloop supervises an unattended coding agent: it invokes the
// agent once per cycle with a fixed prompt file, commits whatever the agent
// changed, and keeps append-only success/error ledgers plus a combined log
// for the whole run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"devloop/internal/agent"
	"devloop/internal/ledger"
	"devloop/internal/logbook"
	"devloop/internal/loop"
	"devloop/internal/stats"
	"devloop/internal/trace"
	"devloop/internal/watch"
)

// Fixed working-directory layout.
const (
	promptFile = "PROMPT.md"
	logFile    = "devloop.log"
	docsDir    = "docs"
)

const (
	defaultDelay = 10
	defaultLoops = 20
)

// config holds the parsed CLI configuration for a run.
type config struct {
	delay   int
	loops   int
	stats   bool
	clean   bool
	watch   bool
	pty     bool
	verbose bool
}

var numericValue = regexp.MustCompile(`^[0-9]+$`)

// parsePositive validates a numeric flag value: digits only, at least 1.
func parsePositive(name, v string) (int, error) {
	if !numericValue.MatchString(v) {
		return 0, fmt.Errorf("--%s must be a positive integer, got %q", name, v)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("--%s must be at least 1, got %q", name, v)
	}
	return n, nil
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("devloop", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	delayStr := strconv.Itoa(defaultDelay)
	loopsStr := strconv.Itoa(defaultLoops)
	// Short and long spellings share one destination.
	fs.StringVar(&delayStr, "d", delayStr, "delay between cycles in seconds")
	fs.StringVar(&delayStr, "delay", delayStr, "delay between cycles in seconds")
	fs.StringVar(&loopsStr, "l", loopsStr, "maximum number of cycles")
	fs.StringVar(&loopsStr, "loops", loopsStr, "maximum number of cycles")
	fs.BoolVar(&cfg.stats, "s", false, "print run statistics and exit")
	fs.BoolVar(&cfg.stats, "stats", false, "print run statistics and exit")
	fs.BoolVar(&cfg.clean, "c", false, "delete the combined log and ledgers and exit")
	fs.BoolVar(&cfg.clean, "clean", false, "delete the combined log and ledgers and exit")
	fs.BoolVar(&cfg.watch, "w", false, "attach a live progress view to a running loop")
	fs.BoolVar(&cfg.watch, "watch", false, "attach a live progress view to a running loop")
	fs.BoolVar(&cfg.pty, "pty", false, "run the agent under a pseudo-terminal")
	fs.BoolVar(&cfg.verbose, "v", false, "verbose startup logging")
	fs.BoolVar(&cfg.verbose, "verbose", false, "verbose startup logging")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: devloop [flags]\n\n")
		fmt.Fprintf(out, "Devloop repeatedly invokes a coding agent with %s, commits the\n", promptFile)
		fmt.Fprintf(out, "resulting changes after every cycle, and keeps an append-only audit\n")
		fmt.Fprintf(out, "trail of per-cycle outcomes.\n\n")
		fmt.Fprintf(out, "Flags:\n")
		fmt.Fprintf(out, "  -h, --help           print this help and exit\n")
		fmt.Fprintf(out, "  -d, --delay SECONDS  delay between cycles (default %d)\n", defaultDelay)
		fmt.Fprintf(out, "  -l, --loops COUNT    maximum number of cycles (default %d)\n", defaultLoops)
		fmt.Fprintf(out, "  -s, --stats          print run statistics and exit\n")
		fmt.Fprintf(out, "  -c, --clean          delete the combined log and ledgers and exit\n")
		fmt.Fprintf(out, "  -w, --watch          attach a live progress view to a running loop\n")
		fmt.Fprintf(out, "      --pty            run the agent under a pseudo-terminal\n")
		fmt.Fprintf(out, "  -v, --verbose        verbose startup logging\n")
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	var err error
	if cfg.delay, err = parsePositive("delay", delayStr); err != nil {
		fmt.Fprintf(fs.Output(), "devloop: %v\n", err)
		return cfg, err
	}
	if cfg.loops, err = parsePositive("loops", loopsStr); err != nil {
		fmt.Fprintf(fs.Output(), "devloop: %v\n", err)
		return cfg, err
	}
	return cfg, nil
}

// checkPrereqs verifies everything a run needs before the first cycle.
func checkPrereqs() error {
	if _, err := os.Stat(promptFile); err != nil {
		return fmt.Errorf("prompt artifact %s not found", promptFile)
	}
	if _, err := exec.LookPath("git"); err != nil {
		return errors.New("git not found in PATH")
	}
	if _, err := exec.LookPath(agent.DefaultBinary); err != nil {
		return fmt.Errorf("%s not found in PATH", agent.DefaultBinary)
	}
	// The reporter scans docs/ but never writes it; create it up front so
	// artifact counts have a home.
	if err := os.MkdirAll(docsDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", docsDir, err)
	}
	return nil
}

// clean removes the combined log, both ledgers and any stale status file.
func clean() error {
	books := ledger.ForLog(logFile)
	for _, p := range []string{logFile, books.SuccessPath, books.ErrorPath, loop.StatusFileName} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

func run(cfg config) error {
	if err := checkPrereqs(); err != nil {
		return err
	}

	if cfg.verbose {
		log.Printf("config: delay=%ds loops=%d pty=%v", cfg.delay, cfg.loops, cfg.pty)
	}

	// The agent child shares the foreground process group, so an interrupt
	// reaches it through normal signal propagation; nothing extra to do
	// beyond cancelling our own work.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logbook.Open(logFile, os.Stdout)
	if err != nil {
		return err
	}
	defer logger.Close()

	tracer, err := trace.NewCycleTracer(ctx)
	if err != nil {
		logger.Warn("cycle tracing disabled: %v", err)
		tracer = nil
	}
	defer tracer.Shutdown(context.Background())

	_, err = loop.Run(ctx, loop.Config{
		WorkDir:    ".",
		PromptPath: promptFile,
		LogPath:    logFile,
		DocsDir:    docsDir,
		MaxLoops:   cfg.loops,
		Delay:      time.Duration(cfg.delay) * time.Second,
		UsePTY:     cfg.pty,
		Log:        logger,
		Tracer:     tracer,
	})
	return err
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(1)
	}

	switch {
	case cfg.clean:
		if err := clean(); err != nil {
			fmt.Fprintf(os.Stderr, "devloop: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("devloop: log and ledgers removed")
		return
	case cfg.stats:
		fmt.Println(stats.Collect(logFile, docsDir).Render(logbook.DefaultStyles()))
		return
	case cfg.watch:
		if err := watch.Run("."); err != nil {
			fmt.Fprintf(os.Stderr, "devloop: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "devloop: %v\n", err)
		os.Exit(1)
	}
}
