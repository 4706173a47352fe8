// Package ingest copies file sets into entry storage. Candidates are
// canonicalized, reduced to a common base directory, and byte-copied
// into <config_dir>/<entry>/<relative path>; sources are left in place
// for the deploy phase to replace with symlinks.
package ingest

import (
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/filesystem"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/normalize"
	"github.com/tetherhq/tether/pkg/paths"
)

// Ingestor copies candidate files into entry storage and records them
// against the entry. The batch copy is best-effort, not atomic: files
// copied before a failure stay in storage and in the entry.
type Ingestor struct {
	fs    filesystem.FS
	paths paths.Paths
	log   zerolog.Logger
}

// New creates an Ingestor over the given filesystem and paths.
func New(fsys filesystem.FS, p paths.Paths) *Ingestor {
	return &Ingestor{
		fs:    fsys,
		paths: p,
		log:   logging.GetLogger("ingest"),
	}
}

// Ingest adds candidate paths to the entry and returns the newly added
// entry-relative paths, sorted. Directories are walked recursively,
// skipping children named ".git". The entry's target directory is
// recomputed over both the previously tracked files and the new
// candidates; when it moves, previously stored relative paths are
// rewritten and their storage files renamed to match.
func (in *Ingestor) Ingest(entry *config.Entry, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	canon, err := normalize.CanonicalizeAll(candidates)
	if err != nil {
		return nil, err
	}
	canon, err = in.dropStorageResolved(entry, canon)
	if err != nil {
		return nil, err
	}
	if len(canon) == 0 {
		return nil, nil
	}

	base, err := in.jointBase(entry, canon)
	if err != nil {
		return nil, err
	}

	oldTarget := entry.TargetDir
	oldFiles := append([]string(nil), entry.Files...)
	var renames []rename
	if entry.TargetDir != "" && base != entry.TargetDir {
		renames, err = in.rebase(entry, base)
		if err != nil {
			return nil, err
		}
	}
	entry.TargetDir = base

	added := make([]string, 0, len(canon))
	if err := in.walk(entry, base, canon, &added); err != nil {
		if len(renames) > 0 {
			// The base moved. A failed batch must not leave storage
			// renamed while the persisted config still holds the old
			// layout, so undo everything this call did.
			in.rollback(entry, oldTarget, oldFiles, renames, added)
			return nil, err
		}
		// Files copied before the failure are already committed to
		// storage; record them so config and storage stay consistent.
		entry.AddFiles(added)
		return added, err
	}

	entry.AddFiles(added)
	in.log.Debug().
		Str("entry", entry.Name).
		Str("targetDir", base).
		Int("added", len(added)).
		Msg("Ingested files")
	return added, nil
}

// dropStorageResolved removes candidates that canonicalize through a
// deployed symlink into the entry's own storage, the normal state after
// deploy. Re-adding an already tracked file this way is a no-op. Any
// other path resolving inside the config directory is rejected: ingest
// must never widen an entry's base toward its own storage tree.
func (in *Ingestor) dropStorageResolved(entry *config.Entry, canon []string) ([]string, error) {
	configDir := in.paths.ConfigDir()
	if resolved, err := normalize.Canonicalize(configDir); err == nil {
		configDir = resolved
	}
	storageDir := filepath.Join(configDir, entry.Name)

	kept := canon[:0]
	for _, p := range canon {
		if _, err := normalize.RelativeTo(configDir, p); err != nil {
			kept = append(kept, p)
			continue
		}
		rel, err := normalize.RelativeTo(storageDir, p)
		if err == nil && entry.HasFile(rel) {
			in.log.Debug().
				Str("entry", entry.Name).
				Str("file", rel).
				Msg("Already tracked, skipping")
			continue
		}
		return nil, errors.Newf(errors.ErrInvalidPath,
			"%s resolves inside the config directory", p)
	}
	return kept, nil
}

// jointBase computes the common base over the entry's reconstructed
// deployed paths and the new canonicalized candidates. A regular file
// contributes its parent directory; a directory contributes itself.
func (in *Ingestor) jointBase(entry *config.Entry, canon []string) (string, error) {
	anchors := make([]string, 0, len(canon)+len(entry.Files))
	for _, p := range canon {
		info, err := in.fs.Stat(p)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrFileNotFound, "file does not exist: %s", p)
		}
		if info.IsDir() {
			anchors = append(anchors, p)
		} else {
			anchors = append(anchors, filepath.Dir(p))
		}
	}
	if entry.TargetDir != "" {
		for _, deployed := range entry.DeployedPaths() {
			anchors = append(anchors, filepath.Dir(deployed))
		}
	}
	return normalize.CommonBase(anchors)
}

// rename records one storage file move so a failed batch can put it
// back.
type rename struct {
	from, to string
}

// rebase re-expresses every tracked relative path against the new base
// and renames the corresponding storage files, returning the moves it
// made. Deployed locations do not move; only the entry-relative
// bookkeeping and storage layout do. On error the moves already made
// are undone and the entry is left untouched.
func (in *Ingestor) rebase(entry *config.Entry, newBase string) ([]rename, error) {
	storageDir := in.paths.EntryStorageDir(entry.Name)
	rewritten := make([]string, 0, len(entry.Files))
	var renames []rename

	undo := func() {
		for i := len(renames) - 1; i >= 0; i-- {
			if err := in.fs.Rename(renames[i].to, renames[i].from); err != nil {
				in.log.Warn().Err(err).
					Str("file", renames[i].from).
					Msg("Could not restore stored file after failed rebase")
			}
		}
	}

	for _, rel := range entry.Files {
		deployed := filepath.Join(entry.TargetDir, rel)
		newRel, err := normalize.RelativeTo(newBase, deployed)
		if err != nil {
			undo()
			return nil, err
		}
		if newRel == rel {
			rewritten = append(rewritten, rel)
			continue
		}

		oldStored := filepath.Join(storageDir, rel)
		newStored := filepath.Join(storageDir, newRel)
		if err := in.fs.MkdirAll(filepath.Dir(newStored), 0755); err != nil {
			undo()
			return nil, errors.Wrapf(err, errors.ErrInternal,
				"could not create storage directory for %s", newRel)
		}
		if err := in.fs.Rename(oldStored, newStored); err != nil {
			undo()
			return nil, errors.Wrapf(err, errors.ErrCorruptState,
				"could not move stored file %s to %s", oldStored, newStored)
		}
		renames = append(renames, rename{from: oldStored, to: newStored})
		rewritten = append(rewritten, newRel)

		in.log.Debug().
			Str("entry", entry.Name).
			Str("from", rel).
			Str("to", newRel).
			Msg("Rewrote stored path for new base")
	}

	entry.Files = nil
	entry.AddFiles(rewritten)
	return renames, nil
}

// rollback restores the entry and its storage to the state before a
// failed ingest that moved the base: partially copied files are
// removed, storage renames are undone, and the entry's target dir and
// file set are put back.
func (in *Ingestor) rollback(entry *config.Entry, target string, files []string, renames []rename, added []string) {
	storageDir := in.paths.EntryStorageDir(entry.Name)
	for _, rel := range added {
		if err := in.fs.Remove(filepath.Join(storageDir, rel)); err != nil {
			in.log.Warn().Err(err).
				Str("file", rel).
				Msg("Could not remove partially ingested file")
		}
	}
	for i := len(renames) - 1; i >= 0; i-- {
		if err := in.fs.Rename(renames[i].to, renames[i].from); err != nil {
			in.log.Warn().Err(err).
				Str("file", renames[i].from).
				Msg("Could not restore stored file after failed ingest")
		}
	}
	entry.TargetDir = target
	entry.Files = nil
	entry.AddFiles(files)
}

// walk recursively copies candidates into storage, accumulating newly
// added relative paths. Traversal order does not affect the final file
// set.
func (in *Ingestor) walk(entry *config.Entry, base string, candidates []string, added *[]string) error {
	for _, candidate := range candidates {
		info, err := in.fs.Stat(candidate)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileNotFound, "file does not exist: %s", candidate)
		}

		if info.IsDir() {
			if filepath.Base(candidate) == ".git" {
				continue
			}
			children, err := in.fs.ReadDir(candidate)
			if err != nil {
				return errors.Wrapf(err, errors.ErrInvalidPath, "could not read directory %s", candidate)
			}
			childPaths := make([]string, 0, len(children))
			for _, child := range children {
				childPaths = append(childPaths, filepath.Join(candidate, child.Name()))
			}
			if err := in.walk(entry, base, childPaths, added); err != nil {
				return err
			}
			continue
		}

		rel, err := normalize.RelativeTo(base, candidate)
		if err != nil {
			return err
		}
		if err := in.copyIntoStorage(entry, candidate, rel, info.Mode()); err != nil {
			return err
		}
		*added = append(*added, rel)
	}
	return nil
}

func (in *Ingestor) copyIntoStorage(entry *config.Entry, source, rel string, mode fs.FileMode) error {
	stored := filepath.Join(in.paths.EntryStorageDir(entry.Name), rel)
	if err := in.fs.MkdirAll(filepath.Dir(stored), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrInternal,
			"could not create storage directory for %s", rel)
	}
	data, err := in.fs.ReadFile(source)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileNotFound, "could not read %s", source)
	}
	if err := in.fs.WriteFile(stored, data, mode.Perm()); err != nil {
		return errors.Wrapf(err, errors.ErrInternal,
			"could not copy %s to %s", source, stored)
	}
	return nil
}
