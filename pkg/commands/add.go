package commands

import (
	"context"
	"fmt"

	"github.com/tetherhq/tether/pkg/logging"
)

// AddFilesOptions defines the options for the AddFiles command.
type AddFilesOptions struct {
	// Entry is the existing entry to extend.
	Entry string

	// Files are the paths to ingest.
	Files []string

	// Push sends the resulting commit to the remote.
	Push bool
}

// AddFilesResult reports what AddFiles ingested.
type AddFilesResult struct {
	Entry     string
	TargetDir string
	Added     []string
}

// AddFiles ingests files into an existing entry, deploys the new
// symlinks, and commits the change.
func AddFiles(ctx context.Context, deps Deps, opts AddFilesOptions) (*AddFilesResult, error) {
	log := logging.GetLogger("commands.add")

	var result *AddFilesResult
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

		added, err := deps.ingestor().Ingest(entry, opts.Files)
		if err != nil {
			return err
		}
		if len(added) == 0 {
			result = &AddFilesResult{Entry: opts.Entry, TargetDir: entry.TargetDir}
			return nil
		}

		if err := deps.reconciler().Deploy(cfg, opts.Entry); err != nil {
			return err
		}
		if err := cfg.Save(deps.Paths); err != nil {
			return err
		}

		sig, err := deps.signature(ctx, cfg)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("Add files to %s\n\nFiles added:\n%s",
			opts.Entry, bulletList(added))
		if err := deps.commitAndMaybePush(ctx, repo, sig, message, opts.Push); err != nil {
			return err
		}

		log.Info().Str("entry", opts.Entry).Int("files", len(added)).Msg("Added files")
		result = &AddFilesResult{Entry: opts.Entry, TargetDir: entry.TargetDir, Added: added}
		return nil
	})
	return result, err
}
