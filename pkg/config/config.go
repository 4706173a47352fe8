// Package config defines tether's persisted data model: the tracked
// config.toml mapping entry names to their deployment metadata, and the
// git-ignored hosts.toml credentials cache.
package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/paths"
)

// Signature sources for commits.
const (
	SignatureGitHub    = "github"
	SignatureGitConfig = "gitconfig"
)

// Git protocols for the remote URL.
const (
	ProtocolSSH   = "ssh"
	ProtocolHTTPS = "https"
)

// Settings holds host and identity metadata for the whole config.
type Settings struct {
	GitProtocol     string `toml:"git_protocol,omitempty"`
	SignatureSource string `toml:"signature_source,omitempty"`
}

// Entry is a named group of tracked files sharing one deployment base
// directory. Files are stored relative to TargetDir, which equals the
// path of the entry's storage subdirectory inside the config dir.
type Entry struct {
	// Name is the map key in Config.Entries; not serialized.
	Name string `toml:"-"`

	// TargetDir is the absolute common ancestor of all deployed files.
	// Empty until the first file is ingested.
	TargetDir string `toml:"target_dir,omitempty"`

	// Files holds entry-relative paths with set semantics; kept sorted
	// for stable serialization. Callers must not rely on order.
	Files []string `toml:"files"`
}

// HasFile reports whether the relative path is tracked by the entry.
func (e *Entry) HasFile(rel string) bool {
	for _, f := range e.Files {
		if f == rel {
			return true
		}
	}
	return false
}

// AddFiles inserts relative paths, ignoring duplicates, and re-sorts.
func (e *Entry) AddFiles(rels []string) {
	for _, rel := range rels {
		if !e.HasFile(rel) {
			e.Files = append(e.Files, rel)
		}
	}
	sort.Strings(e.Files)
}

// RemoveFile deletes a relative path; reports whether it was present.
func (e *Entry) RemoveFile(rel string) bool {
	for i, f := range e.Files {
		if f == rel {
			e.Files = append(e.Files[:i], e.Files[i+1:]...)
			return true
		}
	}
	return false
}

// Deployable reports whether the entry has anything to deploy.
func (e *Entry) Deployable() bool {
	return e.TargetDir != "" && len(e.Files) > 0
}

// Config is the root object persisted to config.toml. It owns all
// entries; load and save are whole-file operations.
type Config struct {
	Tether  Settings          `toml:"tether"`
	Entries map[string]*Entry `toml:"entries"`
}

// Default returns an empty config with SSH protocol and git-config
// signature sourcing.
func Default() *Config {
	return &Config{
		Tether: Settings{
			GitProtocol:     ProtocolSSH,
			SignatureSource: SignatureGitConfig,
		},
		Entries: make(map[string]*Entry),
	}
}

// Exists reports whether the config file is present.
func Exists(p paths.Paths) (bool, error) {
	info, err := os.Stat(p.ConfigFile())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, errors.Newf(errors.ErrConfigCorrupt,
			"config path %s is a directory", p.ConfigFile())
	}
	return true, nil
}

// Load reads and parses config.toml. Entry names are filled in from
// their map keys after parsing.
func Load(p paths.Paths) (*Config, error) {
	exists, err := Exists(p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New(errors.ErrConfigMissing,
			"config file does not exist, run `tether init` to create one")
	}

	data, err := os.ReadFile(p.ConfigFile())
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigCorrupt,
			"could not read %s", p.ConfigFile())
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigCorrupt,
			"could not parse %s", p.ConfigFile())
	}
	if cfg.Entries == nil {
		cfg.Entries = make(map[string]*Entry)
	}
	for name, entry := range cfg.Entries {
		entry.Name = name
	}
	return &cfg, nil
}

// Save writes the config atomically: marshal to a temp file in the same
// directory, then rename over config.toml.
func (c *Config) Save(p paths.Paths) error {
	for _, entry := range c.Entries {
		sort.Strings(entry.Files)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "could not serialize config")
	}

	dir := p.ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, errors.ErrInternal, "could not create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ConfigTempPattern)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "could not create temp config file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrInternal, "could not write temp config file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrInternal, "could not close temp config file")
	}
	if err := os.Rename(tmpName, p.ConfigFile()); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrInternal, "could not replace %s", p.ConfigFile())
	}
	return nil
}

// ConfigTempPattern names the temp files Save writes before renaming.
// The leading dot keeps them out of entry-name space.
const ConfigTempPattern = ".config-*.toml.tmp"

// Entry returns the named entry or an ENTRY_NOT_FOUND error.
func (c *Config) Entry(name string) (*Entry, error) {
	entry, ok := c.Entries[name]
	if !ok {
		return nil, errors.Newf(errors.ErrEntryNotFound, "no entry named %s found", name)
	}
	return entry, nil
}

// AddEntry creates a new empty entry or fails with ENTRY_EXISTS.
func (c *Config) AddEntry(name string) (*Entry, error) {
	if _, ok := c.Entries[name]; ok {
		return nil, errors.Newf(errors.ErrEntryExists,
			"entry named %s already exists, use `tether entry add-files` to extend it", name)
	}
	entry := &Entry{Name: name}
	c.Entries[name] = entry
	return entry, nil
}

// SortedNames returns entry names in lexical order for stable output.
func (c *Config) SortedNames() []string {
	names := make([]string, 0, len(c.Entries))
	for name := range c.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// filepathJoinAll is a small helper used by reconciliation records.
func filepathJoinAll(base string, rels []string) []string {
	out := make([]string, len(rels))
	for i, rel := range rels {
		out[i] = filepath.Join(base, rel)
	}
	return out
}

// DeployedPaths reconstructs the absolute deployed locations of the
// entry's files (target_dir joined with each relative path).
func (e *Entry) DeployedPaths() []string {
	return filepathJoinAll(e.TargetDir, e.Files)
}
