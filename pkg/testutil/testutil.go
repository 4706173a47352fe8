// Package testutil provides fixtures shared by tether's tests: an
// isolated config directory plus helpers for scratch git repositories.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/filesystem"
	"github.com/tetherhq/tether/pkg/paths"
)

// Env is an isolated tether environment rooted in a temp directory:
// a config dir for storage and a separate home dir to deploy into.
type Env struct {
	t     *testing.T
	Root  string
	Home  string
	Paths paths.Paths
	FS    filesystem.FS
}

// NewEnv creates a fresh environment under t.TempDir.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	// Temp dirs can sit behind symlinks (macOS /var); resolve so path
	// comparisons against canonicalized paths hold.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	configDir := filepath.Join(root, "tether")
	home := filepath.Join(root, "home")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.MkdirAll(home, 0755))
	return &Env{
		t:     t,
		Root:  root,
		Home:  home,
		Paths: paths.NewIn(configDir),
		FS:    filesystem.NewOS(),
	}
}

// WriteHomeFile writes a file under the fixture home dir and returns
// its absolute path.
func (e *Env) WriteHomeFile(rel, content string) string {
	e.t.Helper()
	path := filepath.Join(e.Home, rel)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ReadFile reads a file and returns its content as a string.
func (e *Env) ReadFile(path string) string {
	e.t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(e.t, err)
	return string(data)
}

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Git runs a git command in dir and fails the test on error. The
// trimmed stdout is returned.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// InitRepo initializes a git repository on branch main in dir.
func InitRepo(t *testing.T, dir string) {
	t.Helper()
	Git(t, dir, "init", "-b", "main", ".")
}

// InitBareRemote creates a bare repository under t.TempDir to serve as
// a push/fetch target.
func InitBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, os.MkdirAll(dir, 0755))
	Git(t, dir, "init", "--bare", "-b", "main", ".")
	return dir
}

// Commit writes files into dir, stages everything, and commits.
// Files maps repository-relative paths to contents.
func Commit(t *testing.T, dir, message string, files map[string]string) string {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "--allow-empty", "-m", message)
	return Git(t, dir, "rev-parse", "HEAD")
}

// Clone clones src into a fresh directory under t.TempDir and returns
// the clone's path.
func Clone(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	cmd := exec.Command("git", "clone", "--origin", "origin", src, dir)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git clone: %s", out)
	return dir
}
