// Package ledger implements the append-only cycle outcome ledgers.
//
// Two flat files sit next to the combined log: <log>.success holds one line
// per successful cycle (timestamp, cycle index, duration), <log>.error one
// line per failed cycle (timestamp, cycle index). Lines are only ever
// appended; the files are never rewritten or compacted, so the pass/fail
// history of a run is always reconstructable after the fact.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// Books addresses the success and error ledgers for one combined log.
type Books struct {
	SuccessPath string
	ErrorPath   string

	// now is a test hook; nil means time.Now.
	now func() time.Time
}

// ForLog derives the ledger paths from the combined log path.
func ForLog(logPath string) Books {
	return Books{
		SuccessPath: logPath + ".success",
		ErrorPath:   logPath + ".error",
	}
}

func (b Books) timestamp() string {
	now := b.now
	if now == nil {
		now = time.Now
	}
	return now().Format(timeFormat)
}

// AppendSuccess records a successful cycle with its whole-second duration.
func (b Books) AppendSuccess(cycle int, duration time.Duration) error {
	line := fmt.Sprintf("[%s] cycle %d (%ds)\n", b.timestamp(), cycle, int(duration.Seconds()))
	return appendLine(b.SuccessPath, line)
}

// AppendError records a failed cycle.
func (b Books) AppendError(cycle int) error {
	line := fmt.Sprintf("[%s] cycle %d\n", b.timestamp(), cycle)
	return appendLine(b.ErrorPath, line)
}

// appendLine opens the ledger in append mode, writes one line and syncs.
// The open-append-close dance keeps the file valid even if the process dies
// between cycles.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending to ledger %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing ledger %s: %w", path, err)
	}
	return nil
}

// Count returns the number of records in the ledger at path. A missing
// ledger counts as zero; read errors also yield zero since statistics must
// never fail the process.
func Count(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n
}
