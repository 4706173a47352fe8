package commands

import (
	"github.com/tetherhq/tether/pkg/style"
)

// List prints every entry with its file count and deployment base.
func List(deps Deps) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return err
	}

	names := cfg.SortedNames()
	if len(names) == 0 {
		deps.printf("No entries yet. Create one with `tether entry create <name> <files>`.\n")
		return nil
	}

	for _, name := range names {
		entry := cfg.Entries[name]
		deps.printf("%s  %d file(s)", style.EntryName(name), len(entry.Files))
		if entry.TargetDir != "" {
			deps.printf("  %s", style.Dimmed(entry.TargetDir))
		} else {
			deps.printf("  %s", style.Dimmed("(uninitialized)"))
		}
		deps.printf("\n")
	}
	return nil
}
