// Package git wraps the version-control backend behind a narrow
// interface. The concrete implementation shells out to the git binary;
// the rest of the codebase depends only on Repository and ProgressSink.
package git

import "context"

// DefaultRemote and DefaultBranch name the single remote and branch
// tether operates against.
const (
	DefaultRemote = "origin"
	DefaultBranch = "main"
)

// Classification is the merge-analysis result comparing local HEAD with
// the fetched remote head.
type Classification int

const (
	// ClassUnknown means analysis was not performed or failed.
	ClassUnknown Classification = iota

	// ClassUpToDate means the fetched head is already reachable from
	// local HEAD (local is equal to or ahead of remote).
	ClassUpToDate

	// ClassUnborn means local HEAD does not point at a commit yet.
	ClassUnborn

	// ClassNone means nothing was fetched to compare against.
	ClassNone

	// ClassFastForward means the fetched head strictly descends from
	// local HEAD; the branch pointer can be advanced without a merge.
	ClassFastForward

	// ClassNormal means local and remote histories diverged and a
	// three-way merge is required.
	ClassNormal
)

// String returns a human-readable classification name.
func (c Classification) String() string {
	switch c {
	case ClassUpToDate:
		return "up-to-date"
	case ClassUnborn:
		return "unborn"
	case ClassNone:
		return "none"
	case ClassFastForward:
		return "fast-forward"
	case ClassNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Signature identifies the author/committer of a commit.
type Signature struct {
	Name  string
	Email string
}

// ProgressSink receives user-facing progress events from network
// operations. Callbacks fire synchronously on the calling goroutine and
// must not block.
type ProgressSink interface {
	// TransferProgress reports object transfer status during fetch
	// and clone.
	TransferProgress(message string)

	// PushProgress reports object transfer status during push.
	PushProgress(message string)

	// RefUpdate reports a reference update on the remote.
	RefUpdate(ref, status string)
}

// NopSink discards all progress events.
type NopSink struct{}

func (NopSink) TransferProgress(string) {}
func (NopSink) PushProgress(string)     {}
func (NopSink) RefUpdate(string, string) {}

// MergeResult is the outcome of a tree-level three-way merge.
type MergeResult struct {
	// Tree is the OID of the merged tree; empty when Conflicted.
	Tree string

	// Conflicted reports whether the merge produced conflicts. No
	// commit is created in that case.
	Conflicted bool

	// ConflictedFiles lists paths with conflicts, when available.
	ConflictedFiles []string
}

// Repository is the version-control backend surface tether consumes.
type Repository interface {
	// Head returns the commit OID of local HEAD. Unborn branches
	// return an error.
	Head() (string, error)

	// FetchHead returns the commit OID recorded by the last Fetch.
	FetchHead() (string, error)

	// Fetch updates FETCH_HEAD from the remote's branch.
	Fetch(ctx context.Context, remote, branch string, sink ProgressSink) error

	// MergeAnalysis classifies the relationship between local HEAD
	// and FETCH_HEAD.
	MergeAnalysis() (Classification, error)

	// MergeBase returns the best common ancestor of two commits.
	MergeBase(a, b string) (string, error)

	// MergeTrees performs a three-way merge of the trees of two
	// commits against their merge base, without touching the working
	// tree or index.
	MergeTrees(local, remote string) (*MergeResult, error)

	// CommitTree creates a commit from an existing tree with explicit
	// parents and advances the branch to it.
	CommitTree(tree, branch, message string, sig Signature, parents ...string) (string, error)

	// CheckoutConflicted materializes a conflicted merge with the
	// fetched commit into the index and working tree so the user can
	// inspect it. The merge is left uncommitted.
	CheckoutConflicted(remoteCommit string) error

	// AdvanceBranch moves the branch ref to a commit and force-checks
	// the working tree out to match.
	AdvanceBranch(branch, commit string) error

	// ForceCheckout resets the working tree to HEAD.
	ForceCheckout() error

	// CommitAll stages every change outside .git and commits it.
	CommitAll(message string, sig Signature) (string, error)

	// DiffNameOnly lists paths changed between two commits.
	DiffNameOnly(a, b string) ([]string, error)

	// FileAt reads a file's content from a commit's tree.
	FileAt(commit, path string) ([]byte, error)

	// DiffPatch renders a colorized patch between two commits.
	DiffPatch(a, b string) (string, error)

	// Push sends the branch to the remote.
	Push(ctx context.Context, remote, branch string, sink ProgressSink) error
}
