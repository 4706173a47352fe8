// Package deploy reconciles deployed symlinks with tracked storage.
// Deploying makes target_dir/<rel> a symlink to the stored copy;
// undeploying removes exactly those symlinks and nothing else.
package deploy

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/filesystem"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/paths"
)

// Reconciler computes and applies the symlink operations for entries.
type Reconciler struct {
	fs    filesystem.FS
	paths paths.Paths
	log   zerolog.Logger
}

// New creates a Reconciler over the given filesystem and paths.
func New(fsys filesystem.FS, p paths.Paths) *Reconciler {
	return &Reconciler{
		fs:    fsys,
		paths: p,
		log:   logging.GetLogger("deploy"),
	}
}

// linkPair is one reconciliation record: the deployed location and the
// storage path its symlink must point at. Pairs are derived per
// operation and never persisted.
type linkPair struct {
	deployed string
	stored   string
}

func (r *Reconciler) pairs(entry *config.Entry) []linkPair {
	storageDir := r.paths.EntryStorageDir(entry.Name)
	out := make([]linkPair, 0, len(entry.Files))
	for _, rel := range entry.Files {
		out = append(out, linkPair{
			deployed: filepath.Join(entry.TargetDir, rel),
			stored:   filepath.Join(storageDir, rel),
		})
	}
	return out
}

// selectEntries resolves the entry filter: explicit names must exist;
// with no names, every deployable entry is selected.
func (r *Reconciler) selectEntries(cfg *config.Config, names []string) ([]*config.Entry, error) {
	if len(names) == 0 {
		var out []*config.Entry
		for _, name := range cfg.SortedNames() {
			if entry := cfg.Entries[name]; entry.Deployable() {
				out = append(out, entry)
			}
		}
		return out, nil
	}

	var out []*config.Entry
	for _, name := range names {
		entry, err := cfg.Entry(name)
		if err != nil {
			return nil, err
		}
		if entry.Deployable() {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Deploy creates symlinks for the selected entries. Existing correct
// symlinks are left alone; anything else at a deployed location is
// removed and replaced. If a link operation fails partway through, the
// already touched locations are restored to plain-file copies of their
// stored content before the original error is returned.
func (r *Reconciler) Deploy(cfg *config.Config, names ...string) error {
	entries, err := r.selectEntries(cfg, names)
	if err != nil {
		return err
	}

	var touched []linkPair
	for _, entry := range entries {
		for _, pair := range r.pairs(entry) {
			changed, err := r.deployOne(pair)
			if changed {
				touched = append(touched, pair)
			}
			if err != nil {
				r.log.Error().Err(err).
					Str("entry", entry.Name).
					Str("deployed", pair.deployed).
					Msg("Deploy failed, restoring deployed files")
				r.restore(touched)
				return err
			}
		}
	}
	return nil
}

// deployOne reconciles a single pair. The bool reports whether the
// deployed location was modified.
func (r *Reconciler) deployOne(pair linkPair) (bool, error) {
	if _, err := r.fs.Stat(pair.stored); err != nil {
		return false, errors.Wrapf(err, errors.ErrCorruptState,
			"tracked file missing from storage: %s", pair.stored)
	}

	info, err := r.fs.Lstat(pair.deployed)
	if err == nil {
		if info.Mode()&fs.ModeSymlink != 0 {
			if target, err := r.fs.Readlink(pair.deployed); err == nil && target == pair.stored {
				return false, nil
			}
		}
		if info.IsDir() {
			err = r.fs.RemoveAll(pair.deployed)
		} else {
			err = r.fs.Remove(pair.deployed)
		}
		if err != nil {
			return false, errors.Wrapf(err, errors.ErrSymlinkCreate,
				"cannot remove %s", pair.deployed)
		}
		if err := r.fs.Symlink(pair.stored, pair.deployed); err != nil {
			return true, errors.Wrapf(err, errors.ErrSymlinkCreate,
				"could not symlink %s to %s", pair.stored, pair.deployed)
		}
		return true, nil
	}

	if err := r.fs.Symlink(pair.stored, pair.deployed); err != nil {
		return false, errors.Wrapf(err, errors.ErrSymlinkCreate,
			"could not symlink %s to %s", pair.stored, pair.deployed)
	}
	return true, nil
}

// restore puts plain-file copies of storage content back at deployed
// locations that were touched by a failed deploy. Restoration failures
// are logged but never mask the original deploy error.
func (r *Reconciler) restore(touched []linkPair) {
	for _, pair := range touched {
		info, err := r.fs.Lstat(pair.deployed)
		if err == nil {
			if info.Mode()&fs.ModeSymlink == 0 {
				continue
			}
			if target, err := r.fs.Readlink(pair.deployed); err != nil || target != pair.stored {
				continue
			}
			if err := r.fs.Remove(pair.deployed); err != nil {
				r.log.Warn().Err(err).Str("path", pair.deployed).Msg("Could not remove symlink during restore")
				continue
			}
		}
		stored, err := r.fs.Stat(pair.stored)
		if err != nil {
			r.log.Warn().Err(err).Str("path", pair.stored).Msg("Could not stat stored file during restore")
			continue
		}
		data, err := r.fs.ReadFile(pair.stored)
		if err != nil {
			r.log.Warn().Err(err).Str("path", pair.stored).Msg("Could not read stored file during restore")
			continue
		}
		if err := r.fs.WriteFile(pair.deployed, data, stored.Mode().Perm()); err != nil {
			r.log.Warn().Err(err).Str("path", pair.deployed).Msg("Could not restore deployed file")
		}
	}
}

// Undeploy removes symlinks for the selected entries. A deployed path
// is only removed when it is a symlink pointing exactly at the expected
// storage path; anything else is user data and stays untouched.
// Individual failures do not stop reconciliation; they are aggregated
// into a single error.
func (r *Reconciler) Undeploy(cfg *config.Config, names ...string) error {
	entries, err := r.selectEntries(cfg, names)
	if err != nil {
		return err
	}

	var failures []string
	for _, entry := range entries {
		for _, pair := range r.pairs(entry) {
			info, err := r.fs.Lstat(pair.deployed)
			if err != nil {
				continue
			}
			if info.Mode()&fs.ModeSymlink == 0 {
				continue
			}
			target, err := r.fs.Readlink(pair.deployed)
			if err != nil || target != pair.stored {
				continue
			}
			if err := r.fs.Remove(pair.deployed); err != nil {
				failures = append(failures, err.Error())
				r.log.Warn().Err(err).
					Str("entry", entry.Name).
					Str("deployed", pair.deployed).
					Msg("Could not remove symlink")
			}
		}
	}

	if len(failures) > 0 {
		return errors.Newf(errors.ErrInternal,
			"failed to remove %d symlink(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}
