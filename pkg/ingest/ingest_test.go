package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/testutil"
)

func TestIngestSingleFile(t *testing.T) {
	env := testutil.NewEnv(t)
	source := env.WriteHomeFile(".zshrc", "export EDITOR=vim\n")

	entry := &config.Entry{Name: "shell"}
	in := New(env.FS, env.Paths)

	added, err := in.Ingest(entry, []string{source})
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, added)
	assert.Equal(t, []string{".zshrc"}, entry.Files)

	// A single file anchors the base at its parent directory.
	assert.Equal(t, filepath.Dir(source), entry.TargetDir)

	stored := filepath.Join(env.Paths.EntryStorageDir("shell"), ".zshrc")
	assert.Equal(t, "export EDITOR=vim\n", env.ReadFile(stored))
}

func TestIngestDirectoryRecursesAndSkipsGit(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHomeFile("nvim/init.lua", "-- init\n")
	env.WriteHomeFile("nvim/lua/plugins.lua", "-- plugins\n")
	env.WriteHomeFile("nvim/.git/HEAD", "ref: refs/heads/main\n")
	dir := filepath.Join(env.Home, "nvim")

	entry := &config.Entry{Name: "nvim"}
	in := New(env.FS, env.Paths)

	added, err := in.Ingest(entry, []string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"init.lua", "lua/plugins.lua"}, added)
	assert.Equal(t, dir, entry.TargetDir)
	assert.NotContains(t, entry.Files, ".git/HEAD")
}

func TestIngestPreservesMode(t *testing.T) {
	env := testutil.NewEnv(t)
	source := env.WriteHomeFile("bin/backup.sh", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(source, 0755))

	entry := &config.Entry{Name: "bin"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{source})
	require.NoError(t, err)

	stored := filepath.Join(env.Paths.EntryStorageDir("bin"), "backup.sh")
	info, err := os.Stat(stored)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestIngestWidensBaseAndRewritesStoredPaths(t *testing.T) {
	env := testutil.NewEnv(t)
	first := env.WriteHomeFile(".config/nvim/init.lua", "-- init\n")
	second := env.WriteHomeFile(".config/git/config", "[user]\n")

	entry := &config.Entry{Name: "dotfiles"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{first})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(env.Home, ".config/nvim"), entry.TargetDir)

	added, err := in.Ingest(entry, []string{second})
	require.NoError(t, err)
	assert.Equal(t, []string{"git/config"}, added)

	// The base widened to .config; the earlier file is re-expressed
	// against it and its stored copy moved to match.
	assert.Equal(t, filepath.Join(env.Home, ".config"), entry.TargetDir)
	assert.ElementsMatch(t, []string{"nvim/init.lua", "git/config"}, entry.Files)

	moved := filepath.Join(env.Paths.EntryStorageDir("dotfiles"), "nvim/init.lua")
	assert.Equal(t, "-- init\n", env.ReadFile(moved))
}

func TestIngestMissingFile(t *testing.T) {
	env := testutil.NewEnv(t)
	entry := &config.Entry{Name: "x"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{filepath.Join(env.Home, "missing")})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidPath))
}

func TestIngestIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	source := env.WriteHomeFile(".gitconfig", "[user]\n")

	entry := &config.Entry{Name: "git"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{source})
	require.NoError(t, err)
	_, err = in.Ingest(entry, []string{source})
	require.NoError(t, err)

	assert.Equal(t, []string{".gitconfig"}, entry.Files)
}

func TestIngestDeployedSymlinkIsNoOp(t *testing.T) {
	env := testutil.NewEnv(t)
	source := env.WriteHomeFile(".zshrc", "export EDITOR=vim\n")

	entry := &config.Entry{Name: "shell"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{source})
	require.NoError(t, err)
	target := entry.TargetDir

	// Deploy by hand: the source becomes a symlink into storage, which
	// is exactly what a re-run of add-files then hands back to ingest.
	stored := filepath.Join(env.Paths.EntryStorageDir("shell"), ".zshrc")
	require.NoError(t, os.Remove(source))
	require.NoError(t, os.Symlink(stored, source))

	added, err := in.Ingest(entry, []string{source})
	require.NoError(t, err)
	assert.Empty(t, added)

	// Nothing moved: base, file set, stored copy, and the deployed
	// symlink all survive untouched.
	assert.Equal(t, target, entry.TargetDir)
	assert.Equal(t, []string{".zshrc"}, entry.Files)
	assert.Equal(t, "export EDITOR=vim\n", env.ReadFile(stored))
	assert.Equal(t, "export EDITOR=vim\n", env.ReadFile(source))
}

func TestIngestRejectsConfigDirPath(t *testing.T) {
	env := testutil.NewEnv(t)
	intruder := filepath.Join(env.Paths.ConfigDir(), "stray.toml")
	require.NoError(t, os.MkdirAll(env.Paths.ConfigDir(), 0755))
	require.NoError(t, os.WriteFile(intruder, []byte("x\n"), 0644))

	entry := &config.Entry{Name: "shell"}
	_, err := New(env.FS, env.Paths).Ingest(entry, []string{intruder})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidPath))
	assert.Empty(t, entry.Files)
}

func TestIngestRollsBackFailedBaseMove(t *testing.T) {
	env := testutil.NewEnv(t)
	first := env.WriteHomeFile("sub/x", "one\n")
	second := env.WriteHomeFile("b/y", "two\n")

	entry := &config.Entry{Name: "mixed"}
	in := New(env.FS, env.Paths)

	_, err := in.Ingest(entry, []string{first})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(env.Home, "sub"), entry.TargetDir)

	// A plain file where the copy needs a directory makes the batch
	// fail after the base has already moved.
	storageDir := env.Paths.EntryStorageDir("mixed")
	require.NoError(t, os.WriteFile(filepath.Join(storageDir, "b"), []byte("in the way\n"), 0644))

	_, err = in.Ingest(entry, []string{second})
	require.Error(t, err)

	// The failed batch left no trace: base, file set, and the stored
	// copy's location are back to the pre-call state.
	assert.Equal(t, filepath.Join(env.Home, "sub"), entry.TargetDir)
	assert.Equal(t, []string{"x"}, entry.Files)
	assert.Equal(t, "one\n", env.ReadFile(filepath.Join(storageDir, "x")))
	_, statErr := os.Lstat(filepath.Join(storageDir, "sub", "x"))
	assert.Error(t, statErr)
}

func TestIngestNothing(t *testing.T) {
	env := testutil.NewEnv(t)
	entry := &config.Entry{Name: "empty"}

	added, err := New(env.FS, env.Paths).Ingest(entry, nil)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, entry.TargetDir)
}
