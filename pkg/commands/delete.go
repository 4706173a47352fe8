package commands

import (
	"context"
	"fmt"

	"github.com/tetherhq/tether/pkg/logging"
)

// DeleteEntryOptions defines the options for the DeleteEntry command.
type DeleteEntryOptions struct {
	// Name is the entry to delete.
	Name string

	// NoConfirm skips the interactive confirmation.
	NoConfirm bool

	// NoReplaceFiles leaves nothing behind at the deployed locations
	// instead of restoring plain copies of the tracked files.
	NoReplaceFiles bool

	// Push sends the resulting commit to the remote.
	Push bool
}

// DeleteEntryResult reports what DeleteEntry removed.
type DeleteEntryResult struct {
	Name      string
	Restored  []string
	Cancelled bool
}

// DeleteEntry deletes an entry: its symlinks are removed, the tracked
// files are restored to their deployed locations unless NoReplaceFiles
// is set, its storage directory is deleted, and the change is
// committed.
func DeleteEntry(ctx context.Context, deps Deps, opts DeleteEntryOptions) (*DeleteEntryResult, error) {
	log := logging.GetLogger("commands.delete")

	var result *DeleteEntryResult
	err := deps.withLock(func() error {
		cfg, err := deps.loadConfig()
		if err != nil {
			return err
		}
		entry, err := cfg.Entry(opts.Name)
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

		if !opts.NoConfirm {
			prompt := fmt.Sprintf("Delete entry %s and its %d tracked file(s)?",
				opts.Name, len(entry.Files))
			ok, err := deps.Confirm.Confirm(prompt)
			if err != nil {
				return err
			}
			if !ok {
				result = &DeleteEntryResult{Name: opts.Name, Cancelled: true}
				return nil
			}
		}

		var restored []string
		for _, rel := range entry.Files {
			if err := deps.untrackFile(entry, rel, !opts.NoReplaceFiles); err != nil {
				return err
			}
			if !opts.NoReplaceFiles {
				restored = append(restored, rel)
			}
		}
		if err := deps.FS.RemoveAll(deps.Paths.EntryStorageDir(opts.Name)); err != nil {
			return err
		}

		delete(cfg.Entries, opts.Name)
		if err := cfg.Save(deps.Paths); err != nil {
			return err
		}

		sig, err := deps.signature(ctx, cfg)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("Delete entry %s", opts.Name)
		if err := deps.commitAndMaybePush(ctx, repo, sig, message, opts.Push); err != nil {
			return err
		}

		log.Info().Str("entry", opts.Name).Msg("Deleted entry")
		result = &DeleteEntryResult{Name: opts.Name, Restored: restored}
		return nil
	})
	return result, err
}
