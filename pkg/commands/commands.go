// Package commands implements tether's user-facing operations. Each
// command takes a Deps bundle plus an Options struct and returns a
// Result describing what happened; the CLI layer in cmd/tether renders
// the result and maps errors to exit codes.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/deploy"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/filesystem"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/github"
	"github.com/tetherhq/tether/pkg/ingest"
	"github.com/tetherhq/tether/pkg/lock"
	"github.com/tetherhq/tether/pkg/paths"
	"github.com/tetherhq/tether/pkg/remotesync"
	"github.com/tetherhq/tether/pkg/ui"
)

// Deps bundles the ambient dependencies every command needs. Tests
// substitute fakes; the CLI uses NewDeps.
type Deps struct {
	Paths   paths.Paths
	FS      filesystem.FS
	Confirm ui.Confirmer
	Sink    git.ProgressSink
	Out     io.Writer
}

// NewDeps returns the production dependency set: real filesystem,
// XDG-resolved paths, interactive confirmation, stdout.
func NewDeps() Deps {
	return Deps{
		Paths:   paths.New(),
		FS:      filesystem.NewOS(),
		Confirm: ui.TerminalConfirmer{},
		Sink:    git.NopSink{},
		Out:     os.Stdout,
	}
}

func (d Deps) printf(format string, args ...interface{}) {
	fmt.Fprintf(d.Out, format, args...)
}

// loadConfig loads config.toml from the configured directory.
func (d Deps) loadConfig() (*config.Config, error) {
	return config.Load(d.Paths)
}

// openRepo opens the git repository backing the config directory.
func (d Deps) openRepo() (git.Repository, error) {
	return git.Open(d.Paths.ConfigDir())
}

// withLock runs fn while holding the config-directory lock, so two
// tether processes cannot mutate the same config concurrently.
func (d Deps) withLock(fn func() error) error {
	lk := lock.New(d.Paths)
	if err := lk.Acquire(); err != nil {
		return err
	}
	defer lk.Release()
	return fn()
}

// signature resolves the commit identity per the configured source:
// the cached GitHub user, or user.name/user.email from git config.
func (d Deps) signature(ctx context.Context, cfg *config.Config) (git.Signature, error) {
	if cfg.Tether.SignatureSource != config.SignatureGitHub {
		return git.UserSignature()
	}

	hosts, err := config.LoadHosts(d.Paths)
	if err != nil {
		return git.Signature{}, err
	}
	if hosts.User != nil {
		return git.Signature{Name: hosts.User.Name, Email: hosts.User.Email}, nil
	}

	client := github.NewClient(hosts.Auth.Token)
	sig, err := client.Signature(ctx)
	if err != nil {
		return git.Signature{}, err
	}
	// Cache the identity so the next commit skips the API round trip.
	hosts.User = &config.AuthUser{Name: sig.Name, Email: sig.Email}
	if err := hosts.Save(d.Paths); err != nil {
		return git.Signature{}, err
	}
	return sig, nil
}

// ensureRemoteClean is the divergence guard run before every mutating
// command: it refuses to proceed while the remote has history local
// does not.
func (d Deps) ensureRemoteClean(ctx context.Context, repo git.Repository) error {
	return remotesync.NewPlanner(repo).EnsureUpToDate(ctx, d.Sink)
}

// commitAndMaybePush commits everything under the config directory and
// pushes when requested.
func (d Deps) commitAndMaybePush(ctx context.Context, repo git.Repository, sig git.Signature, message string, push bool) error {
	if _, err := repo.CommitAll(message, sig); err != nil {
		return err
	}
	if !push {
		return nil
	}
	if err := repo.Push(ctx, git.DefaultRemote, git.DefaultBranch, d.Sink); err != nil {
		return errors.Wrap(err, errors.ErrPushRejected,
			"changes were committed locally but could not be pushed")
	}
	return nil
}

func (d Deps) ingestor() *ingest.Ingestor {
	return ingest.New(d.FS, d.Paths)
}

func (d Deps) reconciler() *deploy.Reconciler {
	return deploy.New(d.FS, d.Paths)
}
