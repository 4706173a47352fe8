package commands

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/remotesync"
	"github.com/tetherhq/tether/pkg/style"
)

// FileState describes one tracked file's deployment health.
type FileState int

const (
	// FileOK means the deployed location is a symlink to storage.
	FileOK FileState = iota

	// FileMissing means nothing exists at the deployed location.
	FileMissing

	// FileReplaced means something other than tether's symlink sits at
	// the deployed location.
	FileReplaced

	// FileCorrupt means the stored copy is gone.
	FileCorrupt
)

// String returns a short label for display.
func (s FileState) String() string {
	switch s {
	case FileOK:
		return "ok"
	case FileMissing:
		return "missing"
	case FileReplaced:
		return "replaced"
	case FileCorrupt:
		return "storage missing"
	default:
		return "unknown"
	}
}

// CheckOptions controls the check report.
type CheckOptions struct {
	// Entry limits the report to a single entry when non-empty.
	Entry string

	// PrintDiff prints the pending remote patch when the remote is
	// ahead.
	PrintDiff bool
}

// CheckResult reports remote and local health for every entry.
type CheckResult struct {
	Classification git.Classification
	RemoteChanges  *remotesync.ChangeSet
	Files          map[string]map[string]FileState
}

// Clean reports whether every file is deployed correctly and the
// remote has no unseen history.
func (r *CheckResult) Clean() bool {
	if r.Classification == git.ClassFastForward || r.Classification == git.ClassNormal {
		return false
	}
	for _, files := range r.Files {
		for _, state := range files {
			if state != FileOK {
				return false
			}
		}
	}
	return true
}

// Check inspects the remote and every entry's deployment state without
// mutating anything, and prints a report.
func Check(ctx context.Context, deps Deps, opts CheckOptions) (*CheckResult, error) {
	cfg, err := deps.loadConfig()
	if err != nil {
		return nil, err
	}
	names := cfg.SortedNames()
	if opts.Entry != "" {
		if _, ok := cfg.Entries[opts.Entry]; !ok {
			return nil, errors.Newf(errors.ErrEntryNotFound,
				"no entry named %s", opts.Entry)
		}
		names = []string{opts.Entry}
	}
	repo, err := deps.openRepo()
	if err != nil {
		return nil, err
	}

	plan, err := remotesync.NewPlanner(repo).FetchAndClassify(ctx, cfg, deps.Sink)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		Classification: plan.Classification,
		RemoteChanges:  plan.Changes,
		Files:          make(map[string]map[string]FileState),
	}
	for _, name := range names {
		result.Files[name] = deps.checkEntry(cfg.Entries[name])
	}

	deps.reportCheck(cfg, names, result)

	behind := plan.Classification == git.ClassFastForward ||
		plan.Classification == git.ClassNormal
	if opts.PrintDiff && behind {
		patch, err := repo.DiffPatch(plan.LocalHead, plan.RemoteHead)
		if err != nil {
			return result, err
		}
		deps.printf("%s", patch)
	}
	return result, nil
}

func (d Deps) checkEntry(entry *config.Entry) map[string]FileState {
	states := make(map[string]FileState, len(entry.Files))
	storageDir := d.Paths.EntryStorageDir(entry.Name)
	for _, rel := range entry.Files {
		deployed := filepath.Join(entry.TargetDir, rel)
		stored := filepath.Join(storageDir, rel)
		states[rel] = d.checkFile(deployed, stored)
	}
	return states
}

func (d Deps) checkFile(deployed, stored string) FileState {
	if _, err := d.FS.Stat(stored); err != nil {
		return FileCorrupt
	}
	info, err := d.FS.Lstat(deployed)
	if err != nil {
		return FileMissing
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return FileReplaced
	}
	target, err := d.FS.Readlink(deployed)
	if err != nil || target != stored {
		return FileReplaced
	}
	return FileOK
}

func (d Deps) reportCheck(cfg *config.Config, names []string, result *CheckResult) {
	switch result.Classification {
	case git.ClassFastForward, git.ClassNormal:
		d.printf("%s\n", style.Warning("Remote has changes, run `tether update` to apply them:"))
		for _, name := range result.RemoteChanges.EntryNames() {
			d.printf("  %s\n", style.EntryName(name))
		}
		if result.RemoteChanges.ConfigChanged {
			d.printf("  %s\n", style.Dimmed("config.toml"))
		}
	default:
		d.printf("Remote is %s.\n", result.Classification)
	}

	for _, name := range names {
		states := result.Files[name]
		broken := 0
		for _, state := range states {
			if state != FileOK {
				broken++
			}
		}
		if broken == 0 {
			d.printf("%s  %d file(s) deployed\n", style.EntryName(name), len(states))
			continue
		}
		d.printf("%s  %s\n", style.EntryName(name),
			style.Warning("needs attention"))
		for _, rel := range cfg.Entries[name].Files {
			if state := states[rel]; state != FileOK {
				d.printf("  %s  %s\n", style.FilePath(rel), style.Warning(state.String()))
			}
		}
	}
}
