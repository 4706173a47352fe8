// Package lock provides an advisory file lock guarding write-path
// commands against concurrent tether invocations on the same config
// directory. The divergence guard protects against remote races; this
// lock closes the local one.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/paths"
)

// Locker holds an exclusive flock on the config directory's lock file
// for the duration of one command.
type Locker struct {
	lockFile string
	lockFd   *os.File
	pid      int
	acquired bool
}

// New creates a Locker for the config directory.
func New(p paths.Paths) *Locker {
	return &Locker{
		lockFile: p.LockFile(),
		pid:      os.Getpid(),
	}
}

// Acquire takes the lock or fails with LOCK_HELD when another process
// holds it. The lock is non-blocking: callers report and exit rather
// than queue behind another invocation.
func (l *Locker) Acquire() error {
	fd, err := os.OpenFile(l.lockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrLockHeld,
			"could not open lock file %s", l.lockFile)
	}
	l.lockFd = fd

	if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := l.readHolderPid()
		l.closeFd()
		// EWOULDBLOCK and EAGAIN are the same condition on some
		// systems and distinct on others; treat them alike.
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return errors.Newf(errors.ErrLockHeld,
				"another tether process (pid %s) is operating on this config directory", holder)
		}
		return errors.Wrapf(err, errors.ErrLockHeld,
			"could not lock %s", l.lockFile)
	}

	if err := l.writePid(); err != nil {
		l.closeFd()
		return err
	}
	l.acquired = true
	return nil
}

// Release drops the lock and removes the lock file.
func (l *Locker) Release() error {
	if !l.acquired || l.lockFd == nil {
		return nil
	}
	l.acquired = false
	err := syscall.Flock(int(l.lockFd.Fd()), syscall.LOCK_UN)
	l.closeFd()
	if removeErr := os.Remove(l.lockFile); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrLockHeld,
			"could not release lock %s", l.lockFile)
	}
	return nil
}

func (l *Locker) writePid() error {
	if err := l.lockFd.Truncate(0); err != nil {
		return errors.Wrap(err, errors.ErrLockHeld, "could not truncate lock file")
	}
	if _, err := l.lockFd.Seek(0, 0); err != nil {
		return errors.Wrap(err, errors.ErrLockHeld, "could not rewind lock file")
	}
	if _, err := fmt.Fprintf(l.lockFd, "%d\n", l.pid); err != nil {
		return errors.Wrap(err, errors.ErrLockHeld, "could not write pid to lock file")
	}
	return nil
}

func (l *Locker) readHolderPid() string {
	data, err := os.ReadFile(l.lockFile)
	if err != nil {
		return "unknown"
	}
	pidStr := strings.TrimSpace(string(data))
	if _, err := strconv.Atoi(pidStr); err != nil {
		return "unknown"
	}
	return pidStr
}

func (l *Locker) closeFd() {
	if l.lockFd != nil {
		_ = l.lockFd.Close()
		l.lockFd = nil
	}
}
