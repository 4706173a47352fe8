package remotesync

import (
	"sort"
	"strings"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/paths"
)

// ChangeSet partitions changed paths from a tree diff by entry name.
// Files at the repository root are reported through ConfigChanged
// instead of being attributed to an entry.
type ChangeSet struct {
	// Entries maps entry name to the changed paths under it.
	Entries map[string][]string

	// ConfigChanged reports a change to the tracked config file.
	ConfigChanged bool
}

// Empty reports whether the diff touched nothing of interest.
func (c *ChangeSet) Empty() bool {
	return !c.ConfigChanged && len(c.Entries) == 0
}

// EntryNames returns the affected entry names in lexical order.
func (c *ChangeSet) EntryNames() []string {
	names := make([]string, 0, len(c.Entries))
	for name := range c.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PartitionChanges buckets diff paths by their first path component.
// The tracked config file at the root flips ConfigChanged; other root
// files (.gitignore, the hosts cache) are ignored. A path under a
// top-level directory that no given config knows as an entry is a
// data-integrity failure. Callers pass both sides of a diff so an
// entry created on another machine is recognized.
func PartitionChanges(files []string, cfgs ...*config.Config) (*ChangeSet, error) {
	known := func(name string) bool {
		for _, cfg := range cfgs {
			if cfg == nil {
				continue
			}
			if _, ok := cfg.Entries[name]; ok {
				return true
			}
		}
		return false
	}

	changes := &ChangeSet{Entries: make(map[string][]string)}
	for _, file := range files {
		parts := strings.Split(file, "/")
		if len(parts) == 1 {
			if file == paths.ConfigFileName {
				changes.ConfigChanged = true
			}
			continue
		}
		top := parts[0]
		if !known(top) {
			return nil, errors.Newf(errors.ErrOrphanedFile,
				"found file that does not belong to any entry: %s", file)
		}
		changes.Entries[top] = append(changes.Entries[top], file)
	}
	for _, list := range changes.Entries {
		sort.Strings(list)
	}
	return changes, nil
}

// describe renders the change set for merge commit messages.
func (c *ChangeSet) describe() string {
	var b strings.Builder
	if c.ConfigChanged {
		b.WriteString(paths.ConfigFileName + "\n")
	}
	for _, name := range c.EntryNames() {
		b.WriteString(name + ":\n")
		for _, file := range c.Entries[name] {
			b.WriteString("    " + file + "\n")
		}
	}
	return b.String()
}
