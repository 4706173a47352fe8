package commands

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/normalize"
)

// RemoveFilesOptions defines the options for the RemoveFiles command.
type RemoveFilesOptions struct {
	// Entry is the entry to remove files from.
	Entry string

	// Files name tracked files as entry-relative paths, deployed
	// locations, or storage paths.
	Files []string

	// NoConfirm skips the interactive confirmation.
	NoConfirm bool

	// Push sends the resulting commit to the remote.
	Push bool
}

// RemoveFilesResult reports what RemoveFiles untracked.
type RemoveFilesResult struct {
	Entry     string
	Removed   []string
	Cancelled bool
}

// RemoveFiles stops tracking files in an entry: the deployed symlink is
// replaced with a plain copy of the stored content, the stored copy is
// deleted, and the change is committed.
func RemoveFiles(ctx context.Context, deps Deps, opts RemoveFilesOptions) (*RemoveFilesResult, error) {
	log := logging.GetLogger("commands.remove")

	var result *RemoveFilesResult
	err := deps.withLock(func() error {
		cfg, err := deps.loadConfig()
		if err != nil {
			return err
		}
		entry, err := cfg.Entry(opts.Entry)
		if err != nil {
			return err
		}
		repo, err := deps.openRepo()
		if err != nil {
			return err
		}
		if err := deps.ensureRemoteClean(ctx, repo); err != nil {
			return err
		}

		rels := make([]string, 0, len(opts.Files))
		for _, file := range opts.Files {
			rel, err := deps.resolveTracked(entry, file)
			if err != nil {
				return err
			}
			rels = append(rels, rel)
		}

		if !opts.NoConfirm {
			ok, err := deps.Confirm.Confirm(fmt.Sprintf(
				"Remove %d file(s) from entry %s?", len(rels), opts.Entry))
			if err != nil {
				return err
			}
			if !ok {
				result = &RemoveFilesResult{Entry: opts.Entry, Cancelled: true}
				return nil
			}
		}

		for _, rel := range rels {
			if err := deps.untrackFile(entry, rel, true); err != nil {
				return err
			}
			entry.RemoveFile(rel)
		}

		if err := cfg.Save(deps.Paths); err != nil {
			return err
		}
		sig, err := deps.signature(ctx, cfg)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("Remove files from %s\n\nFiles removed:\n%s",
			opts.Entry, bulletList(rels))
		if err := deps.commitAndMaybePush(ctx, repo, sig, message, opts.Push); err != nil {
			return err
		}

		log.Info().Str("entry", opts.Entry).Int("files", len(rels)).Msg("Removed files")
		result = &RemoveFilesResult{Entry: opts.Entry, Removed: rels}
		return nil
	})
	return result, err
}

// resolveTracked maps a user-supplied path to an entry-relative tracked
// path. Accepted spellings: the relative path itself, the deployed
// location, or the path inside entry storage. The deployed location is
// a symlink, so symlink-resolving spellings land on the storage path
// and are handled by the storage case.
func (d Deps) resolveTracked(entry *config.Entry, file string) (string, error) {
	if entry.HasFile(file) {
		return file, nil
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidPath, "invalid path: %s", file)
	}
	abs = filepath.Clean(abs)

	storageDir := d.Paths.EntryStorageDir(entry.Name)
	candidates := []string{abs}
	if canon, err := normalize.Canonicalize(file); err == nil {
		candidates = append(candidates, canon)
	}

	for _, candidate := range candidates {
		for _, base := range []string{storageDir, entry.TargetDir} {
			if base == "" {
				continue
			}
			rel, err := normalize.RelativeTo(base, candidate)
			if err != nil {
				continue
			}
			if entry.HasFile(rel) {
				return rel, nil
			}
		}
	}
	return "", errors.Newf(errors.ErrFileNotFound,
		"%s is not tracked by entry %s", file, entry.Name)
}

// untrackFile removes the deployed symlink and the stored copy for one
// tracked file. When restore is set, a plain copy of the stored content
// is written back to the deployed location first.
func (d Deps) untrackFile(entry *config.Entry, rel string, restore bool) error {
	deployed := filepath.Join(entry.TargetDir, rel)
	stored := filepath.Join(d.Paths.EntryStorageDir(entry.Name), rel)

	info, err := d.FS.Lstat(deployed)
	isOurLink := err == nil && info.Mode()&fs.ModeSymlink != 0
	if isOurLink {
		target, err := d.FS.Readlink(deployed)
		isOurLink = err == nil && target == stored
	}

	if isOurLink {
		if err := d.FS.Remove(deployed); err != nil {
			return errors.Wrapf(err, errors.ErrInternal,
				"could not remove symlink %s", deployed)
		}
		if restore {
			storedInfo, err := d.FS.Stat(stored)
			if err != nil {
				return errors.Wrapf(err, errors.ErrCorruptState,
					"tracked file missing from storage: %s", stored)
			}
			data, err := d.FS.ReadFile(stored)
			if err != nil {
				return errors.Wrapf(err, errors.ErrCorruptState,
					"tracked file missing from storage: %s", stored)
			}
			if err := d.FS.WriteFile(deployed, data, storedInfo.Mode().Perm()); err != nil {
				return errors.Wrapf(err, errors.ErrInternal,
					"could not restore %s", deployed)
			}
		}
	}

	if err := d.FS.Remove(stored); err != nil {
		return errors.Wrapf(err, errors.ErrInternal,
			"could not remove stored file %s", stored)
	}
	return nil
}
