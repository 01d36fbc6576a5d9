// Package gitmeta collects per-file git metadata by shelling out to git.
// Everything here is best effort: a missing git binary or a non-repo
// directory yields no metadata, never an indexing failure.
package gitmeta

import (
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ncrowell/codeatlas/internal/store"
)

// churnWindow bounds how far back commit counting looks.
const churnWindow = "90.days"

// Collector gathers git metadata for files under one repository root.
type Collector struct {
	root      string
	available bool
}

// NewCollector probes whether root is inside a git work tree.
func NewCollector(root string) *Collector {
	c := &Collector{root: root}

	out, err := c.git("rev-parse", "--is-inside-work-tree")
	c.available = err == nil && strings.TrimSpace(out) == "true"
	if !c.available {
		log.Debug("Git metadata unavailable", "root", root)
	}

	return c
}

// Available reports whether git metadata can be collected.
func (c *Collector) Available() bool {
	return c.available
}

// ForFile returns git metadata for a repo-relative path, or nil when the
// file has no commit history.
func (c *Collector) ForFile(relPath string) *store.GitInfo {
	if !c.available {
		return nil
	}

	// %x1f separates fields so commit messages with newlines stay intact.
	out, err := c.git("log", "-1", "--format=%an%x1f%ae%x1f%H%x1f%aI%x1f%s", "--", relPath)
	if err != nil || strings.TrimSpace(out) == "" {
		return nil
	}

	fields := strings.SplitN(strings.TrimRight(out, "\n"), "\x1f", 5)
	if len(fields) < 5 {
		return nil
	}

	info := &store.GitInfo{
		Author:     fields[0],
		Email:      fields[1],
		CommitHash: fields[2],
		Message:    fields[4],
	}
	if t, err := time.Parse(time.RFC3339, fields[3]); err == nil {
		info.CommitDate = t
	}

	info.CommitCount = c.recentCommitCount(relPath)
	info.Churn = ClassifyChurn(info.CommitCount)

	return info
}

// recentCommitCount counts commits touching the file inside the churn window.
func (c *Collector) recentCommitCount(relPath string) int {
	out, err := c.git("rev-list", "--count", "--since="+churnWindow, "HEAD", "--", relPath)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return n
}

func (c *Collector) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.root
	out, err := cmd.Output()
	return string(out), err
}

// ClassifyChurn maps a recent commit count to a churn level.
func ClassifyChurn(commitCount int) store.ChurnLevel {
	switch {
	case commitCount >= 10:
		return store.ChurnHigh
	case commitCount >= 3:
		return store.ChurnMedium
	case commitCount >= 1:
		return store.ChurnLow
	default:
		return store.ChurnNone
	}
}
