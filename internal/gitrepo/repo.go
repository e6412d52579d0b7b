// Package gitrepo wraps the git operations the supervisor needs: one-time
// repository bootstrap and per-cycle snapshot commits of the working tree.
package gitrepo

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// commitTimeFormat matches the combined log's timestamp layout so the commit
// history lines up with the log stream.
const commitTimeFormat = "2006-01-02 15:04:05"

// Repo runs git against a single working tree. The supervisor is the only
// process assumed to mutate the tree for its lifetime, so no locking is
// needed around these calls.
type Repo struct {
	dir string

	// now is a test hook; nil means time.Now.
	now func() time.Time
}

// New returns a Repo for the given working tree.
func New(dir string) *Repo {
	return &Repo{dir: dir}
}

// git runs a git subcommand in the repo directory, returning combined output
// on failure for diagnosable error messages.
func (r *Repo) git(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", r.dir}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// Initialized reports whether version-control metadata exists for the tree.
// Both layouts count: .git as a directory (regular repo) or as a file
// (linked worktree).
func (r *Repo) Initialized() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// EnsureInitialized bootstraps the repository exactly once: creates the git
// metadata, stages every current file and produces the initial snapshot
// commit. Subsequent calls are no-ops. Returns whether the bootstrap ran.
//
// Failure here is fatal to the whole run; the caller must not start cycles
// without an established audit trail.
func (r *Repo) EnsureInitialized() (bool, error) {
	if r.Initialized() {
		return false, nil
	}
	if _, err := r.git("init"); err != nil {
		return false, fmt.Errorf("initializing repository: %w", err)
	}
	if err := r.StageAll(); err != nil {
		return false, err
	}
	msg := fmt.Sprintf("Auto-commit: %s [Initial]", r.timestamp())
	// --allow-empty covers bootstrapping an empty tree; cycle commits never
	// use it.
	if _, err := r.git("commit", "--allow-empty", "-m", msg); err != nil {
		return false, fmt.Errorf("creating initial commit: %w", err)
	}
	return true, nil
}

// HasChanges reports whether the working tree (including staged changes)
// differs from the last commit.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.git("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// StageAll stages every change in the working tree.
func (r *Repo) StageAll() error {
	if _, err := r.git("add", "-A"); err != nil {
		return err
	}
	return nil
}

// Commit creates a commit with the given message.
func (r *Repo) Commit(msg string) error {
	if _, err := r.git("commit", "-m", msg); err != nil {
		return err
	}
	return nil
}

// CommitIfChanged snapshots the working tree if anything changed since the
// last commit. Returns whether a commit was created; an unchanged tree is
// not an error. Never produces an empty commit.
func (r *Repo) CommitIfChanged() (bool, error) {
	changed, err := r.HasChanges()
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := r.StageAll(); err != nil {
		return false, err
	}
	msg := fmt.Sprintf("Auto-commit: %s", r.timestamp())
	if err := r.Commit(msg); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) timestamp() string {
	now := r.now
	if now == nil {
		now = time.Now
	}
	return now().Format(commitTimeFormat)
}
