package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetherhq/tether/pkg/logging"
)

// NewEntryOptions defines the options for the NewEntry command.
type NewEntryOptions struct {
	// Name is the entry to create; it must not exist yet.
	Name string

	// Files are initial paths to ingest into the entry. May be empty.
	Files []string

	// Push sends the resulting commit to the remote.
	Push bool
}

// NewEntryResult reports what NewEntry created.
type NewEntryResult struct {
	Name      string
	TargetDir string
	Added     []string
}

// NewEntry creates a named entry, optionally ingesting and deploying an
// initial set of files, and commits the change.
func NewEntry(ctx context.Context, deps Deps, opts NewEntryOptions) (*NewEntryResult, error) {
	log := logging.GetLogger("commands.new")

	var result *NewEntryResult
	err := deps.withLock(func() error {
		cfg, err := deps.loadConfig()
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

		entry, err := cfg.AddEntry(opts.Name)
		if err != nil {
			return err
		}

		added, err := deps.ingestor().Ingest(entry, opts.Files)
		if err != nil {
			return err
		}
		if err := deps.reconciler().Deploy(cfg, opts.Name); err != nil {
			return err
		}
		if err := cfg.Save(deps.Paths); err != nil {
			return err
		}

		sig, err := deps.signature(ctx, cfg)
		if err != nil {
			return err
		}
		message := newEntryMessage(opts.Name, added)
		if err := deps.commitAndMaybePush(ctx, repo, sig, message, opts.Push); err != nil {
			return err
		}

		log.Info().Str("entry", opts.Name).Int("files", len(added)).Msg("Created entry")
		result = &NewEntryResult{Name: opts.Name, TargetDir: entry.TargetDir, Added: added}
		return nil
	})
	return result, err
}

func newEntryMessage(name string, added []string) string {
	if len(added) == 0 {
		return fmt.Sprintf("Create entry %s", name)
	}
	return fmt.Sprintf("Create entry %s\n\nFiles added:\n%s",
		name, bulletList(added))
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "  - %s\n", item)
	}
	return b.String()
}
