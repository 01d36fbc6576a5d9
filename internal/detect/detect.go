// Package detect walks a project tree and decides which files need
// reindexing by comparing content fingerprints against the store.
package detect

import (
	"github.com/charmbracelet/log"

	"github.com/ncrowell/codeatlas/internal/store"
)

// Plan is the outcome of change detection for one run.
type Plan struct {
	ToProcess []FileInfo // new files plus files whose fingerprint changed
	Unchanged []string   // relative paths skipped as up to date
	ToDelete  []string   // relative paths indexed before but now gone
}

// BuildPlan compares the current tree against previously indexed files.
// With force set, every discovered file is reprocessed regardless of its
// fingerprint; deletions are still honored.
func BuildPlan(walker *Walker, indexed []store.FileRecord, force bool) (*Plan, error) {
	known := make(map[string]string, len(indexed))
	for _, f := range indexed {
		known[f.Path] = f.Fingerprint
	}

	plan := &Plan{}
	seen := make(map[string]bool)

	err := walker.Walk(func(info FileInfo) error {
		seen[info.RelPath] = true

		fingerprint, ok := known[info.RelPath]
		if !force && ok && fingerprint == info.Fingerprint {
			plan.Unchanged = append(plan.Unchanged, info.RelPath)
			return nil
		}

		plan.ToProcess = append(plan.ToProcess, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range indexed {
		if !seen[f.Path] {
			plan.ToDelete = append(plan.ToDelete, f.Path)
		}
	}

	log.Debug("Built change plan",
		"process", len(plan.ToProcess),
		"unchanged", len(plan.Unchanged),
		"delete", len(plan.ToDelete))

	return plan, nil
}
