package commands

import (
	"context"

	"github.com/tetherhq/tether/pkg/git"
)

// Push sends local commits to the remote.
func Push(ctx context.Context, deps Deps) error {
	repo, err := deps.openRepo()
	if err != nil {
		return err
	}
	return repo.Push(ctx, git.DefaultRemote, git.DefaultBranch, deps.Sink)
}
