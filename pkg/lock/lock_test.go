package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/paths"
)

func testPaths(t *testing.T) paths.Paths {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tether")
	require.NoError(t, os.MkdirAll(dir, 0755))
	return paths.NewIn(dir)
}

func TestAcquireAndRelease(t *testing.T) {
	p := testPaths(t)
	lk := New(p)

	require.NoError(t, lk.Acquire())
	_, err := os.Stat(p.LockFile())
	assert.NoError(t, err, "lock file should exist while held")

	require.NoError(t, lk.Release())
	_, err = os.Stat(p.LockFile())
	assert.True(t, os.IsNotExist(err), "lock file should be removed on release")
}

func TestSecondAcquireBlocks(t *testing.T) {
	p := testPaths(t)

	first := New(p)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := New(p)
	err := second.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrLockHeld))
}

func TestReacquireAfterRelease(t *testing.T) {
	p := testPaths(t)

	first := New(p)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := New(p)
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}
