// Package remotesync drives the update decision procedure: fetch the
// remote branch, classify it against local HEAD, and apply the matching
// recovery action. Conflicts are detected before any destructive step
// and reported, never resolved.
package remotesync

import (
	"context"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/paths"
)

// State names the phases of an update pass.
type State int

const (
	StateFetching State = iota
	StateClassified
	StateMerging
	StateApplying
	StateDone
	StateConflictAborted
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateClassified:
		return "classified"
	case StateMerging:
		return "merging"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	case StateConflictAborted:
		return "conflict-aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Planner fetches and classifies remote state and applies updates.
type Planner struct {
	repo   git.Repository
	remote string
	branch string
	log    zerolog.Logger
}

// NewPlanner creates a Planner over the repository, bound to the
// default remote and branch.
func NewPlanner(repo git.Repository) *Planner {
	return &Planner{
		repo:   repo,
		remote: git.DefaultRemote,
		branch: git.DefaultBranch,
		log:    logging.GetLogger("remotesync"),
	}
}

// Plan is the outcome of fetch-and-classify: the relationship between
// local and remote history plus the entry-partitioned diff.
type Plan struct {
	Classification git.Classification
	Changes        *ChangeSet
	LocalHead      string
	RemoteHead     string
}

// FetchAndClassify fetches the remote branch and classifies it against
// local HEAD. When both heads exist, the tree diff between them is
// partitioned by entry so callers can report what changed where.
func (p *Planner) FetchAndClassify(ctx context.Context, cfg *config.Config, sink git.ProgressSink) (*Plan, error) {
	if err := p.repo.Fetch(ctx, p.remote, p.branch, sink); err != nil {
		return nil, errors.Wrapf(err, errors.ErrGitOperation,
			"failed to fetch from remote %q", p.remote)
	}

	class, err := p.repo.MergeAnalysis()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Classification: class,
		Changes:        &ChangeSet{Entries: make(map[string][]string)},
	}
	p.log.Debug().Str("classification", class.String()).Msg("Classified remote state")

	if class == git.ClassUnborn || class == git.ClassNone {
		return plan, nil
	}

	plan.LocalHead, err = p.repo.Head()
	if err != nil {
		return nil, err
	}
	plan.RemoteHead, err = p.repo.FetchHead()
	if err != nil {
		return nil, err
	}

	files, err := p.repo.DiffNameOnly(plan.LocalHead, plan.RemoteHead)
	if err != nil {
		return nil, err
	}
	plan.Changes, err = PartitionChanges(files, cfg, p.remoteConfig(plan.RemoteHead))
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// remoteConfig parses config.toml as it exists at the fetched commit,
// so entries created on another machine are recognized when the diff is
// partitioned. Returns nil when the file is missing or unparseable; the
// local config alone decides then.
func (p *Planner) remoteConfig(remoteHead string) *config.Config {
	data, err := p.repo.FileAt(remoteHead, paths.ConfigFileName)
	if err != nil {
		p.log.Debug().Err(err).Msg("No readable config at fetched commit")
		return nil
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		p.log.Debug().Err(err).Msg("Could not parse config at fetched commit")
		return nil
	}
	return &cfg
}

// EnsureUpToDate is the divergence guard for mutating commands: it
// fetches, classifies, and fails with REMOTE_DIVERGENCE unless local
// history is equal to or ahead of the remote. Nothing is mutated.
func (p *Planner) EnsureUpToDate(ctx context.Context, sink git.ProgressSink) error {
	if err := p.repo.Fetch(ctx, p.remote, p.branch, sink); err != nil {
		return errors.Wrapf(err, errors.ErrGitOperation,
			"failed to fetch from remote %q", p.remote)
	}
	class, err := p.repo.MergeAnalysis()
	if err != nil {
		return err
	}
	if class == git.ClassUpToDate || class == git.ClassNone {
		return nil
	}
	return errors.Newf(errors.ErrRemoteDivergence,
		"changes found on remote (%s), run `tether update` before modifying entries", class)
}

// UpdateResult reports what an update pass did.
type UpdateResult struct {
	State           State
	Classification  git.Classification
	Changes         *ChangeSet
	OldHead         string
	NewHead         string
	MergeBase       string
	MergeCommit     string
	Pushed          bool
	ConflictedFiles []string
}

// Update runs the full state machine: Fetching, Classified, optionally
// Merging, Applying, then Done, ConflictAborted, or Failed. Callers
// must undeploy symlinks before calling and redeploy afterwards.
func (p *Planner) Update(ctx context.Context, cfg *config.Config, sig git.Signature, sink git.ProgressSink) (*UpdateResult, error) {
	result := &UpdateResult{State: StateFetching}

	plan, err := p.FetchAndClassify(ctx, cfg, sink)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.State = StateClassified
	result.Classification = plan.Classification
	result.Changes = plan.Changes
	result.OldHead = plan.LocalHead
	result.NewHead = plan.LocalHead

	switch plan.Classification {
	case git.ClassUpToDate, git.ClassUnborn, git.ClassNone:
		result.State = StateDone
		return result, nil

	case git.ClassFastForward:
		result.State = StateApplying
		if err := p.repo.AdvanceBranch(p.branch, plan.RemoteHead); err != nil {
			result.State = StateFailed
			return result, err
		}
		result.NewHead = plan.RemoteHead
		result.State = StateDone
		return result, nil

	case git.ClassNormal:
		return p.merge(ctx, plan, result, sig, sink)

	default:
		result.State = StateFailed
		return result, errors.Newf(errors.ErrGitOperation,
			"unknown merge analysis result %q, aborting", plan.Classification)
	}
}

// merge handles the divergent case: three-way tree merge, conflict
// detection before any commit, merge commit with both parents, force
// checkout, push.
func (p *Planner) merge(ctx context.Context, plan *Plan, result *UpdateResult, sig git.Signature, sink git.ProgressSink) (*UpdateResult, error) {
	result.State = StateMerging

	base, err := p.repo.MergeBase(plan.LocalHead, plan.RemoteHead)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.MergeBase = base
	p.log.Debug().
		Str("base", shortOID(base)).
		Str("local", shortOID(plan.LocalHead)).
		Str("remote", shortOID(plan.RemoteHead)).
		Msg("Merging diverged histories")

	merged, err := p.repo.MergeTrees(plan.LocalHead, plan.RemoteHead)
	if err != nil {
		result.State = StateFailed
		return result, err
	}

	if merged.Conflicted {
		// Materialize the conflicted merge for inspection, then stop:
		// no commit is created and nothing is pushed.
		if err := p.repo.CheckoutConflicted(plan.RemoteHead); err != nil {
			p.log.Warn().Err(err).Msg("Could not check out conflicted merge")
		}
		result.State = StateConflictAborted
		result.ConflictedFiles = merged.ConflictedFiles
		return result, errors.Newf(errors.ErrMergeConflict,
			"merge of %s and %s produced conflicts, resolve them manually and retry",
			shortOID(plan.LocalHead), shortOID(plan.RemoteHead))
	}

	message := fmt.Sprintf("Merge %s into %s\n\nFiles changed:\n%s",
		plan.RemoteHead, plan.LocalHead, plan.Changes.describe())
	commit, err := p.repo.CommitTree(merged.Tree, p.branch, message, sig,
		plan.LocalHead, plan.RemoteHead)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.MergeCommit = commit
	result.NewHead = commit

	result.State = StateApplying
	if err := p.repo.ForceCheckout(); err != nil {
		result.State = StateFailed
		return result, err
	}

	if err := p.repo.Push(ctx, p.remote, p.branch, sink); err != nil {
		// The merge commit exists locally but the remote was not
		// updated; callers can detect this window and retry the push.
		result.State = StateFailed
		return result, errors.Wrapf(err, errors.ErrPushRejected,
			"merge commit %s created locally but push failed", shortOID(commit))
	}
	result.Pushed = true
	result.State = StateDone
	return result, nil
}

func shortOID(oid string) string {
	if len(oid) > 7 {
		return oid[:7]
	}
	return oid
}
