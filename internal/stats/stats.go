// Package stats derives run statistics from the on-disk ledgers and a scan
// of the documentation directory. Purely read-only; it never fails the
// process — anything missing simply counts as zero.
package stats

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"devloop/internal/ledger"
	"devloop/internal/logbook"
)

// Summary holds the derived cycle counts and artifact tallies.
type Summary struct {
	Succeeded int
	Failed    int
	Total     int
	// DocCounts maps file extension (".md", ".html", ...) to the number of
	// artifact files under the docs directory. Extension-less files are
	// keyed by their full name's absence, under "(none)".
	DocCounts map[string]int
}

// Collect reads the ledgers belonging to logPath and scans docsDir.
func Collect(logPath, docsDir string) Summary {
	books := ledger.ForLog(logPath)
	s := Summary{
		Succeeded: ledger.Count(books.SuccessPath),
		Failed:    ledger.Count(books.ErrorPath),
		DocCounts: map[string]int{},
	}
	s.Total = s.Succeeded + s.Failed

	// Walk errors (missing dir included) leave the tally at zero.
	_ = filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == "" {
			ext = "(none)"
		}
		s.DocCounts[ext]++
		return nil
	})

	return s
}

// Render formats the summary for the console in the same shape as the
// end-of-loop report.
func (s Summary) Render(st logbook.Styles) string {
	var lines []string
	lines = append(lines, st.Title.Render("Run statistics:"))
	lines = append(lines, st.Success.Render(fmt.Sprintf("  ✓ %d successful cycle(s)", s.Succeeded)))
	lines = append(lines, st.Error.Render(fmt.Sprintf("  ✗ %d failed cycle(s)", s.Failed)))
	lines = append(lines, st.Info.Render(fmt.Sprintf("  Σ %d total cycle(s)", s.Total)))

	if len(s.DocCounts) > 0 {
		exts := make([]string, 0, len(s.DocCounts))
		for ext := range s.DocCounts {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		parts := make([]string, 0, len(exts))
		for _, ext := range exts {
			parts = append(parts, fmt.Sprintf("%d %s", s.DocCounts[ext], ext))
		}
		lines = append(lines, st.Muted.Render("  docs: "+strings.Join(parts, ", ")))
	} else {
		lines = append(lines, st.Muted.Render("  docs: no artifacts"))
	}

	return strings.Join(lines, "\n")
}
