package commands

import (
	"context"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/remotesync"
	"github.com/tetherhq/tether/pkg/style"
)

// UpdateOptions defines the options for the Update command.
type UpdateOptions struct {
	// PrintDiff prints the patch between the old and new heads after a
	// successful update.
	PrintDiff bool
}

// Update brings local state in line with the remote: symlinks are taken
// down, the remote history is fetched, classified, and applied (fast
// forward or three-way merge), and the surviving entries are redeployed
// from the updated config.
//
// A conflicted merge aborts before any commit. The conflict markers are
// left in the working tree and the symlinks stay down so the conflicted
// files can be edited directly.
func Update(ctx context.Context, deps Deps, opts UpdateOptions) (*remotesync.UpdateResult, error) {
	log := logging.GetLogger("commands.update")

	var result *remotesync.UpdateResult
	err := deps.withLock(func() error {
		cfg, err := deps.loadConfig()
		if err != nil {
			return err
		}
		repo, err := deps.openRepo()
		if err != nil {
			return err
		}
		sig, err := deps.signature(ctx, cfg)
		if err != nil {
			return err
		}

		if err := deps.reconciler().Undeploy(cfg); err != nil {
			return err
		}

		result, err = remotesync.NewPlanner(repo).Update(ctx, cfg, sig, deps.Sink)
		if err != nil {
			if result != nil && result.State == remotesync.StateConflictAborted {
				deps.printf("%s\n", style.Warning("Merge conflicts, resolve before re-running `tether update`:"))
				for _, file := range result.ConflictedFiles {
					deps.printf("  %s\n", style.FilePath(file))
				}
				return err
			}
			// The working tree did not change; put the symlinks back
			// before surfacing the failure.
			if deployErr := deps.reconciler().Deploy(cfg); deployErr != nil {
				log.Warn().Err(deployErr).Msg("Could not redeploy after failed update")
			}
			return err
		}

		// The checkout may have rewritten config.toml; deploy from the
		// on-disk state, not the copy loaded before the update.
		cfg, err = deps.loadConfig()
		if err != nil {
			return errors.Wrap(err, errors.ErrCorruptState,
				"config unreadable after update, repository may need manual repair")
		}
		if err := deps.reconciler().Deploy(cfg); err != nil {
			return err
		}

		deps.reportUpdate(result)
		if opts.PrintDiff && result.OldHead != "" && result.OldHead != result.NewHead {
			patch, err := repo.DiffPatch(result.OldHead, result.NewHead)
			if err != nil {
				return err
			}
			deps.printf("%s\n", patch)
		}

		log.Info().
			Str("state", result.State.String()).
			Str("classification", result.Classification.String()).
			Msg("Update finished")
		return nil
	})
	return result, err
}

func (d Deps) reportUpdate(result *remotesync.UpdateResult) {
	if result.Changes == nil || result.Changes.Empty() {
		d.printf("Already up to date.\n")
		return
	}
	d.printf("Updated entries:\n")
	for _, name := range result.Changes.EntryNames() {
		d.printf("  %s\n", style.EntryName(name))
	}
	if result.Changes.ConfigChanged {
		d.printf("  %s\n", style.Dimmed("config.toml"))
	}
	if result.MergeCommit != "" {
		d.printf("Merged remote changes into %s.\n", style.Dimmed(result.MergeCommit[:7]))
	}
}
