package commands

import (
	"github.com/tetherhq/tether/pkg/style"
	"github.com/tetherhq/tether/pkg/ui"
)

// ShowEntryOptions defines the options for the ShowEntry command.
type ShowEntryOptions struct {
	// Name is the entry to show.
	Name string
}

// ShowEntry prints an entry's tracked files as a tree rooted at its
// deployment base.
func ShowEntry(deps Deps, opts ShowEntryOptions) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return err
	}
	entry, err := cfg.Entry(opts.Name)
	if err != nil {
		return err
	}

	deps.printf("%s\n", style.EntryName(entry.Name))
	if len(entry.Files) == 0 {
		deps.printf("%s\n", style.Dimmed("(no files tracked)"))
		return nil
	}

	tree, err := ui.RenderFileTree(entry.TargetDir, entry.Files)
	if err != nil {
		return err
	}
	deps.printf("%s", tree)
	return nil
}
