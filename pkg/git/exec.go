package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/logging"
)

// execRepository implements Repository by shelling out to the git
// binary with `git -C <dir> ...`.
type execRepository struct {
	dir string
	log zerolog.Logger
}

// Open opens an existing repository rooted at dir.
func Open(dir string) (Repository, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, errors.Wrapf(err, errors.ErrGitOperation,
			"%s is not a git repository", dir)
	}
	return &execRepository{dir: dir, log: logging.GetLogger("git")}, nil
}

// Init creates a repository at dir on the given branch and wires up the
// remote.
func Init(dir, branch, remoteURL string) (Repository, error) {
	repo := &execRepository{dir: dir, log: logging.GetLogger("git")}
	if _, err := repo.run("init", "-b", branch, "."); err != nil {
		return nil, err
	}
	if remoteURL != "" {
		if _, err := repo.run("remote", "add", DefaultRemote, remoteURL); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Clone clones url into dir and returns the repository. The clone
// command runs from dir's parent: dir itself must not exist yet, git
// creates it.
func Clone(ctx context.Context, url, dir string, sink ProgressSink) (Repository, error) {
	repo := &execRepository{dir: dir, log: logging.GetLogger("git")}
	runner := &execRepository{dir: filepath.Dir(dir), log: repo.log}
	err := runner.runProgress(ctx, sink.TransferProgress,
		"clone", "--progress", "--origin", DefaultRemote, url, dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrGitOperation, "failed to clone %s", url)
	}
	return repo, nil
}

// UserSignature reads user.name and user.email from git config.
func UserSignature() (Signature, error) {
	name, err := configValue("user.name")
	if err != nil {
		return Signature{}, errors.Wrap(err, errors.ErrGitOperation,
			"user.name is not set in your git config")
	}
	email, err := configValue("user.email")
	if err != nil {
		return Signature{}, errors.Wrap(err, errors.ErrGitOperation,
			"user.email is not set in your git config")
	}
	return Signature{Name: name, Email: email}, nil
}

func configValue(key string) (string, error) {
	out, err := exec.Command("git", "config", "--get", key).Output()
	if err != nil {
		return "", fmt.Errorf("git config --get %s: %w", key, err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", fmt.Errorf("git config value %s is empty", key)
	}
	return value, nil
}

// run executes a git command in the repository directory and returns
// its trimmed stdout.
func (r *execRepository) run(args ...string) (string, error) {
	return r.runSig(Signature{}, args...)
}

// runSig is run with author/committer identity injected through the
// environment, for commands that create commits.
func (r *execRepository) runSig(sig Signature, args ...string) (string, error) {
	full := append([]string{"-C", r.dir}, args...)
	r.log.Debug().Strs("args", full).Msg("Executing git command")

	cmd := exec.Command("git", full...)
	if sig.Name != "" {
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME="+sig.Name,
			"GIT_AUTHOR_EMAIL="+sig.Email,
			"GIT_COMMITTER_NAME="+sig.Name,
			"GIT_COMMITTER_EMAIL="+sig.Email,
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, errors.ErrGitOperation,
			"git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runProgress executes a git command, streaming stderr lines to the
// given progress callback. Git writes all progress output to stderr.
func (r *execRepository) runProgress(ctx context.Context, progress func(string), args ...string) error {
	full := append([]string{"-C", r.dir}, args...)
	r.log.Debug().Strs("args", full).Msg("Executing git command")

	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var lastLines []string
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLines = append(lastLines, line)
		if len(lastLines) > 4 {
			lastLines = lastLines[1:]
		}
		progress(line)
	}

	if err := cmd.Wait(); err != nil {
		return errors.Wrapf(err, errors.ErrGitOperation,
			"git %s failed: %s", strings.Join(args, " "), strings.Join(lastLines, "; "))
	}
	return nil
}

// scanProgressLines splits on both newlines and carriage returns so
// that git's in-place progress updates ("Receiving objects: 42%...\r")
// arrive as individual lines.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (r *execRepository) Head() (string, error) {
	return r.run("rev-parse", "--verify", "HEAD")
}

func (r *execRepository) FetchHead() (string, error) {
	return r.run("rev-parse", "--verify", "FETCH_HEAD")
}

func (r *execRepository) Fetch(ctx context.Context, remote, branch string, sink ProgressSink) error {
	return r.runProgress(ctx, sink.TransferProgress,
		"fetch", "--progress", remote, branch)
}

// MergeAnalysis compares HEAD and FETCH_HEAD:
// unborn HEAD, missing FETCH_HEAD, equal commits, ancestor in either
// direction, or true divergence.
func (r *execRepository) MergeAnalysis() (Classification, error) {
	head, err := r.Head()
	if err != nil {
		return ClassUnborn, nil
	}
	fetched, err := r.FetchHead()
	if err != nil {
		return ClassNone, nil
	}
	if head == fetched {
		return ClassUpToDate, nil
	}

	ancestor, err := r.isAncestor(fetched, head)
	if err != nil {
		return ClassUnknown, err
	}
	if ancestor {
		// Remote head already reachable locally.
		return ClassUpToDate, nil
	}

	ancestor, err = r.isAncestor(head, fetched)
	if err != nil {
		return ClassUnknown, err
	}
	if ancestor {
		return ClassFastForward, nil
	}
	return ClassNormal, nil
}

// isAncestor reports whether a is an ancestor of b.
func (r *execRepository) isAncestor(a, b string) (bool, error) {
	cmd := exec.Command("git", "-C", r.dir, "merge-base", "--is-ancestor", a, b)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, errors.Wrapf(err, errors.ErrGitOperation,
		"git merge-base --is-ancestor %s %s failed", a, b)
}

func (r *execRepository) MergeBase(a, b string) (string, error) {
	return r.run("merge-base", a, b)
}

// MergeTrees uses merge-tree in write-tree mode: a real three-way merge
// of the two commits' trees against their merge base that never touches
// the working tree. Exit code 1 signals conflicts; the conflicted file
// list follows the tree OID on stdout.
func (r *execRepository) MergeTrees(local, remote string) (*MergeResult, error) {
	full := []string{"-C", r.dir, "merge-tree", "--write-tree", "--name-only", local, remote}
	r.log.Debug().Strs("args", full).Msg("Executing git command")

	cmd := exec.Command("git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() != 1 {
			return nil, errors.Wrapf(err, errors.ErrGitOperation,
				"git merge-tree failed: %s", strings.TrimSpace(stderr.String()))
		}
		result := &MergeResult{Conflicted: true}
		if len(lines) > 1 {
			for _, line := range lines[1:] {
				if line == "" {
					break
				}
				result.ConflictedFiles = append(result.ConflictedFiles, line)
			}
		}
		return result, nil
	}

	if len(lines) == 0 || lines[0] == "" {
		return nil, errors.New(errors.ErrGitOperation, "git merge-tree produced no output")
	}
	return &MergeResult{Tree: lines[0]}, nil
}

func (r *execRepository) CommitTree(tree, branch, message string, sig Signature, parents ...string) (string, error) {
	args := []string{"commit-tree", tree, "-m", message}
	for _, parent := range parents {
		args = append(args, "-p", parent)
	}
	commit, err := r.runSig(sig, args...)
	if err != nil {
		return "", err
	}
	if _, err := r.run("update-ref", "refs/heads/"+branch, commit); err != nil {
		return "", err
	}
	return commit, nil
}

// CheckoutConflicted replays the merge against the working tree so the
// conflict markers are visible for manual resolution. A conflicted
// merge exits non-zero; that exit status is expected here.
func (r *execRepository) CheckoutConflicted(remoteCommit string) error {
	if _, err := r.run("merge", "--no-commit", "--no-ff", remoteCommit); err != nil {
		r.log.Debug().Err(err).Msg("Merge left conflicts in working tree for inspection")
	}
	return nil
}

func (r *execRepository) AdvanceBranch(branch, commit string) error {
	if _, err := r.run("update-ref", "refs/heads/"+branch, commit); err != nil {
		return err
	}
	return r.ForceCheckout()
}

func (r *execRepository) ForceCheckout() error {
	_, err := r.run("reset", "--hard", "HEAD")
	return err
}

// CommitAll stages everything outside .git and commits it. When the
// tree is clean, no commit is created and the current HEAD is returned.
func (r *execRepository) CommitAll(message string, sig Signature) (string, error) {
	if _, err := r.run("add", "-A", "."); err != nil {
		return "", err
	}
	status, err := r.run("status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status == "" {
		return r.Head()
	}
	if _, err := r.runSig(sig, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.Head()
}

func (r *execRepository) DiffNameOnly(a, b string) ([]string, error) {
	out, err := r.run("diff", "--name-only", a, b)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// FileAt reads path from the tree of a commit without touching the
// working tree.
func (r *execRepository) FileAt(commit, path string) ([]byte, error) {
	out, err := r.run("show", commit+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (r *execRepository) DiffPatch(a, b string) (string, error) {
	return r.run("diff", "--color=always", a, b)
}

func (r *execRepository) Push(ctx context.Context, remote, branch string, sink ProgressSink) error {
	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	progress := func(line string) {
		if strings.Contains(line, "->") {
			sink.RefUpdate(branch, line)
			return
		}
		sink.PushProgress(line)
	}
	return r.runProgress(ctx, progress, "push", "--progress", remote, refspec)
}
