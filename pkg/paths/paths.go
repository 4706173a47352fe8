// Package paths provides centralized path handling for tether.
// The config directory defaults to the XDG config home and can be
// overridden through TETHER_CONFIG_DIR, which is how tests inject
// temporary directories.
package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Environment variable names
const (
	// EnvConfigDir overrides the config directory for tether
	EnvConfigDir = "TETHER_CONFIG_DIR"
)

// File and directory names inside the config directory. These define
// the tracked repository layout and are not user-configurable.
const (
	// AppDirName is the directory name for tether inside XDG config home
	AppDirName = "tether"

	// ConfigFileName is the tracked configuration file
	ConfigFileName = "config.toml"

	// HostsFileName holds cached host credentials; it is git-ignored
	HostsFileName = "hosts.toml"

	// LockFileName guards write-path commands against concurrent runs
	LockFileName = ".tether.lock"
)

// Paths resolves every location tether reads or writes. Commands
// receive a Paths value instead of consulting the environment directly.
type Paths interface {
	// ConfigDir is the git-managed directory holding config.toml and
	// one storage subdirectory per entry.
	ConfigDir() string

	// ConfigFile is the tracked TOML file inside ConfigDir.
	ConfigFile() string

	// HostsFile is the git-ignored credentials cache inside ConfigDir.
	HostsFile() string

	// EntryStorageDir is the storage subdirectory for a named entry.
	EntryStorageDir(name string) string

	// LockFile is the advisory lock guarding write-path commands.
	LockFile() string
}

type paths struct {
	configDir string
}

// New resolves the tether config directory from the environment.
func New() Paths {
	dir := os.Getenv(EnvConfigDir)
	if dir == "" {
		dir = filepath.Join(xdg.ConfigHome, AppDirName)
	}
	return &paths{configDir: dir}
}

// NewIn returns a Paths rooted at an explicit directory.
func NewIn(dir string) Paths {
	return &paths{configDir: dir}
}

func (p *paths) ConfigDir() string {
	return p.configDir
}

func (p *paths) ConfigFile() string {
	return filepath.Join(p.configDir, ConfigFileName)
}

func (p *paths) HostsFile() string {
	return filepath.Join(p.configDir, HostsFileName)
}

func (p *paths) EntryStorageDir(name string) string {
	return filepath.Join(p.configDir, name)
}

func (p *paths) LockFile() string {
	return filepath.Join(p.configDir, LockFileName)
}
