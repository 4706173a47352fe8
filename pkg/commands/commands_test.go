package commands_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/commands"
	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/testutil"
	"github.com/tetherhq/tether/pkg/ui"
)

// harness is an initialized tether setup: config dir with a git repo,
// a bare remote it has pushed to, and a second clone acting as another
// machine.
type harness struct {
	env    *testutil.Env
	deps   commands.Deps
	out    *bytes.Buffer
	remote string
	other  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	testutil.RequireGit(t)

	// Commit signatures come from git config; point git at a scratch
	// global config so the test does not depend on the host machine.
	gitconfig := filepath.Join(t.TempDir(), "gitconfig")
	require.NoError(t, os.WriteFile(gitconfig, []byte(
		"[user]\n\tname = test\n\temail = test@example.com\n"), 0644))
	t.Setenv("GIT_CONFIG_GLOBAL", gitconfig)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	env := testutil.NewEnv(t)
	remote := testutil.InitBareRemote(t)

	dir := env.Paths.ConfigDir()
	testutil.InitRepo(t, dir)
	testutil.Git(t, dir, "remote", "add", "origin", remote)
	require.NoError(t, config.Default().Save(env.Paths))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"),
		[]byte("hosts.toml\n.tether.lock\n"), 0644))
	testutil.Commit(t, dir, "Initialize tether config", nil)
	testutil.Git(t, dir, "push", "origin", "main")

	out := &bytes.Buffer{}
	return &harness{
		env: env,
		deps: commands.Deps{
			Paths:   env.Paths,
			FS:      env.FS,
			Confirm: ui.AutoConfirmer{},
			Sink:    git.NopSink{},
			Out:     out,
		},
		out:    out,
		remote: remote,
		other:  testutil.Clone(t, remote),
	}
}

func (h *harness) reload(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(h.env.Paths)
	require.NoError(t, err)
	return cfg
}

func TestNewEntryCreatesDeploysAndCommits(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "export EDITOR=vim\n")

	result, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, result.Added)
	assert.Equal(t, h.env.Home, result.TargetDir)

	// The source location is now a symlink into entry storage.
	target, err := os.Readlink(source)
	require.NoError(t, err)
	stored := filepath.Join(h.env.Paths.EntryStorageDir("shell"), ".zshrc")
	assert.Equal(t, stored, target)
	assert.Equal(t, "export EDITOR=vim\n", h.env.ReadFile(source))

	// The entry is persisted and the change committed.
	cfg := h.reload(t)
	entry, err := cfg.Entry("shell")
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, entry.Files)

	log := testutil.Git(t, h.env.Paths.ConfigDir(), "log", "--oneline")
	assert.Contains(t, log, "Create entry shell")
}

func TestNewEntryRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{Name: "shell"})
	require.NoError(t, err)

	_, err = commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{Name: "shell"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrEntryExists))
}

func TestNewEntryWithPushAdvancesRemote(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".gitconfig", "[user]\n")

	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "git",
		Files: []string{source},
		Push:  true,
	})
	require.NoError(t, err)

	localHead := testutil.Git(t, h.env.Paths.ConfigDir(), "rev-parse", "HEAD")
	remoteHead := testutil.Git(t, h.other, "ls-remote", "origin", "main")
	assert.Contains(t, remoteHead, localHead)
}

func TestAddFilesExtendsEntry(t *testing.T) {
	h := newHarness(t)
	first := h.env.WriteHomeFile(".config/nvim/init.lua", "-- init\n")
	second := h.env.WriteHomeFile(".config/nvim/lua/plugins.lua", "-- plugins\n")

	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "nvim",
		Files: []string{first},
	})
	require.NoError(t, err)

	result, err := commands.AddFiles(context.Background(), h.deps, commands.AddFilesOptions{
		Entry: "nvim",
		Files: []string{second},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lua/plugins.lua"}, result.Added)

	target, err := os.Readlink(second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.env.Paths.EntryStorageDir("nvim"), "lua/plugins.lua"), target)
}

func TestRemoveFilesRestoresPlainCopies(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "export EDITOR=vim\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	result, err := commands.RemoveFiles(context.Background(), h.deps, commands.RemoveFilesOptions{
		Entry: "shell",
		Files: []string{source},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, result.Removed)

	// The deployed location is a plain file again with the content.
	info, err := os.Lstat(source)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink)
	assert.Equal(t, "export EDITOR=vim\n", h.env.ReadFile(source))

	// The stored copy is gone and the entry no longer tracks it.
	_, err = os.Stat(filepath.Join(h.env.Paths.EntryStorageDir("shell"), ".zshrc"))
	assert.True(t, os.IsNotExist(err))
	entry, err := h.reload(t).Entry("shell")
	require.NoError(t, err)
	assert.Empty(t, entry.Files)
}

func TestRemoveFilesRestoresExecutableMode(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile("bin/backup.sh", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(source, 0755))
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "bin",
		Files: []string{source},
	})
	require.NoError(t, err)

	_, err = commands.RemoveFiles(context.Background(), h.deps, commands.RemoveFilesOptions{
		Entry: "bin",
		Files: []string{source},
	})
	require.NoError(t, err)

	info, err := os.Lstat(source)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestRemoveFilesAcceptsRelativeSpelling(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "x\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	result, err := commands.RemoveFiles(context.Background(), h.deps, commands.RemoveFilesOptions{
		Entry: "shell",
		Files: []string{".zshrc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, result.Removed)
}

func TestRemoveFilesUnknownFile(t *testing.T) {
	h := newHarness(t)
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{Name: "shell"})
	require.NoError(t, err)

	_, err = commands.RemoveFiles(context.Background(), h.deps, commands.RemoveFilesOptions{
		Entry: "shell",
		Files: []string{"nope"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrFileNotFound))
}

func TestDeleteEntryRestoresFiles(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "keep me\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	result, err := commands.DeleteEntry(context.Background(), h.deps, commands.DeleteEntryOptions{
		Name: "shell",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, result.Restored)

	assert.Equal(t, "keep me\n", h.env.ReadFile(source))
	_, err = os.Stat(h.env.Paths.EntryStorageDir("shell"))
	assert.True(t, os.IsNotExist(err))
	_, err = h.reload(t).Entry("shell")
	assert.True(t, errors.IsErrorCode(err, errors.ErrEntryNotFound))
}

func TestDeleteEntryNoReplaceFiles(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "x\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	_, err = commands.DeleteEntry(context.Background(), h.deps, commands.DeleteEntryOptions{
		Name:           "shell",
		NoReplaceFiles: true,
	})
	require.NoError(t, err)

	_, err = os.Lstat(source)
	assert.True(t, os.IsNotExist(err), "deployed location should be left empty")
}

func TestDeleteEntryCancelled(t *testing.T) {
	h := newHarness(t)
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{Name: "shell"})
	require.NoError(t, err)

	h.deps.Confirm = denyConfirmer{}
	result, err := commands.DeleteEntry(context.Background(), h.deps, commands.DeleteEntryOptions{
		Name: "shell",
	})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)

	_, err = h.reload(t).Entry("shell")
	assert.NoError(t, err, "a cancelled delete must not touch the entry")
}

type denyConfirmer struct{}

func (denyConfirmer) Confirm(string) (bool, error) { return false, nil }

func TestMutationsBlockedByRemoteDivergence(t *testing.T) {
	h := newHarness(t)

	// Another machine pushes first.
	testutil.Commit(t, h.other, "Remote change", map[string]string{"README.md": "hi\n"})
	testutil.Git(t, h.other, "push", "origin", "main")

	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{Name: "shell"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrRemoteDivergence))
}

func TestUpdateDeploysRemoteEntry(t *testing.T) {
	h := newHarness(t)

	// Another machine tracks a file whose deployment base also exists
	// here, then pushes entry storage plus the updated config.
	remoteCfg := fmt.Sprintf(
		"[tether]\ngit_protocol = \"ssh\"\nsignature_source = \"gitconfig\"\n\n[entries.shell]\ntarget_dir = %q\nfiles = [\".zshrc\"]\n",
		h.env.Home)
	testutil.Commit(t, h.other, "Create entry shell", map[string]string{
		"config.toml":  remoteCfg,
		"shell/.zshrc": "export EDITOR=vim\n",
	})
	testutil.Git(t, h.other, "push", "origin", "main")

	result, err := commands.Update(context.Background(), h.deps, commands.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, git.ClassFastForward, result.Classification)
	assert.Equal(t, []string{"shell"}, result.Changes.EntryNames())

	deployed := filepath.Join(h.env.Home, ".zshrc")
	target, err := os.Readlink(deployed)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.env.Paths.EntryStorageDir("shell"), ".zshrc"), target)
}

func TestUpdateWhenAlreadyCurrent(t *testing.T) {
	h := newHarness(t)

	result, err := commands.Update(context.Background(), h.deps, commands.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, git.ClassUpToDate, result.Classification)
	assert.Contains(t, h.out.String(), "Already up to date.")
}

func TestListAndShow(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".config/nvim/init.lua", "-- init\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "nvim",
		Files: []string{source},
	})
	require.NoError(t, err)

	h.out.Reset()
	require.NoError(t, commands.List(h.deps))
	assert.Contains(t, h.out.String(), "nvim")
	assert.Contains(t, h.out.String(), "1 file(s)")

	h.out.Reset()
	require.NoError(t, commands.ShowEntry(h.deps, commands.ShowEntryOptions{Name: "nvim"}))
	assert.Contains(t, h.out.String(), "init.lua")
}

func TestListMarksEntryWithoutTargetDir(t *testing.T) {
	h := newHarness(t)
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name: "empty",
	})
	require.NoError(t, err)

	h.out.Reset()
	require.NoError(t, commands.List(h.deps))
	assert.Contains(t, h.out.String(), "empty")
	assert.Contains(t, h.out.String(), "(uninitialized)")
}

func TestCheckReportsBrokenDeployment(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "x\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	// Break the deployment: replace the symlink with a plain file.
	require.NoError(t, os.Remove(source))
	require.NoError(t, os.WriteFile(source, []byte("local edit\n"), 0644))

	result, err := commands.Check(context.Background(), h.deps, commands.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, result.Clean())
	assert.Equal(t, commands.FileReplaced, result.Files["shell"][".zshrc"])
	assert.Contains(t, h.out.String(), "needs attention")
}

func TestCheckCleanAfterRedeploy(t *testing.T) {
	h := newHarness(t)
	source := h.env.WriteHomeFile(".zshrc", "x\n")
	_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
		Name:  "shell",
		Files: []string{source},
	})
	require.NoError(t, err)

	require.NoError(t, os.Remove(source))
	require.NoError(t, commands.Redeploy(h.deps, "shell"))

	result, err := commands.Check(context.Background(), h.deps, commands.CheckOptions{})
	require.NoError(t, err)
	assert.True(t, result.Clean())
}

func TestCheckFiltersToOneEntry(t *testing.T) {
	h := newHarness(t)
	shell := h.env.WriteHomeFile(".zshrc", "x\n")
	editor := h.env.WriteHomeFile(".vimrc", "y\n")
	for name, source := range map[string]string{"shell": shell, "editor": editor} {
		_, err := commands.NewEntry(context.Background(), h.deps, commands.NewEntryOptions{
			Name:  name,
			Files: []string{source},
		})
		require.NoError(t, err)
	}

	result, err := commands.Check(context.Background(), h.deps,
		commands.CheckOptions{Entry: "shell"})
	require.NoError(t, err)
	assert.Contains(t, result.Files, "shell")
	assert.NotContains(t, result.Files, "editor")

	_, err = commands.Check(context.Background(), h.deps,
		commands.CheckOptions{Entry: "nope"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrEntryNotFound))
}

func TestPushSendsLocalCommits(t *testing.T) {
	h := newHarness(t)
	testutil.Commit(t, h.env.Paths.ConfigDir(), "Local change", map[string]string{
		"config.toml": strings.Replace(h.env.ReadFile(h.env.Paths.ConfigFile()),
			"ssh", "https", 1),
	})

	require.NoError(t, commands.Push(context.Background(), h.deps))

	localHead := testutil.Git(t, h.env.Paths.ConfigDir(), "rev-parse", "HEAD")
	remoteHead := testutil.Git(t, h.other, "ls-remote", "origin", "main")
	assert.Contains(t, remoteHead, localHead)
}
