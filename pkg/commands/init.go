package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/github"
	"github.com/tetherhq/tether/pkg/logging"
	"github.com/tetherhq/tether/pkg/paths"
)

// RepoName is the repository created on GitHub when init is run
// without an existing remote.
const RepoName = "tether-config"

// gitignoreBody keeps credentials and the lock file out of the
// tracked repository.
const gitignoreBody = "hosts.toml\n.tether.lock\n"

// InitOptions defines the options for the Init command.
type InitOptions struct {
	// GitURL, when set, is an existing config repository to clone
	// instead of creating a new one on GitHub.
	GitURL string

	// Force reinitializes over an existing config directory.
	Force bool
}

// InitResult reports what Init set up.
type InitResult struct {
	ConfigDir   string
	ClonedFrom  string
	RepoHTMLURL string
	Deployed    []string
}

// Init sets up the config directory: either clone an existing config
// repository and deploy its entries, or create a fresh repository on
// GitHub and push an empty config to it.
func Init(ctx context.Context, deps Deps, opts InitOptions) (*InitResult, error) {
	log := logging.GetLogger("commands.init")

	exists, err := config.Exists(deps.Paths)
	if err != nil {
		return nil, err
	}
	if exists && !opts.Force {
		return nil, errors.Newf(errors.ErrAlreadyInit,
			"config already exists at %s, use --force to reinitialize", deps.Paths.ConfigFile())
	}
	if exists {
		log.Warn().Str("dir", deps.Paths.ConfigDir()).Msg("Removing existing config directory")
		if err := deps.FS.RemoveAll(deps.Paths.ConfigDir()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrInternal,
				"could not remove existing config directory %s", deps.Paths.ConfigDir())
		}
	}

	return deps.withLockInit(func() (*InitResult, error) {
		if opts.GitURL != "" {
			return initFromClone(ctx, deps, opts.GitURL)
		}
		return initCreateRepo(ctx, deps)
	})
}

// withLockInit is withLock for a result-returning body. Init cannot use
// withLock directly because the lock file lives inside the directory it
// creates.
func (d Deps) withLockInit(fn func() (*InitResult, error)) (*InitResult, error) {
	if err := d.FS.MkdirAll(d.Paths.ConfigDir(), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal,
			"could not create config directory %s", d.Paths.ConfigDir())
	}
	var result *InitResult
	err := d.withLock(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// initFromClone clones an existing config repository and deploys every
// entry it describes.
func initFromClone(ctx context.Context, deps Deps, url string) (*InitResult, error) {
	dir := deps.Paths.ConfigDir()

	entries, err := deps.FS.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if entry.Name() == paths.LockFileName {
				continue
			}
			return nil, errors.Newf(errors.ErrInvalidPath,
				"config directory %s is not empty, cannot clone into it", dir)
		}
	}

	// git refuses to clone into a non-empty directory, and the lock
	// file counts. Clone to a staging path and move the contents over.
	staging := dir + ".clone"
	defer deps.FS.RemoveAll(staging)
	if _, err := git.Clone(ctx, url, staging, deps.Sink); err != nil {
		return nil, err
	}
	if err := moveContents(deps, staging, dir); err != nil {
		return nil, err
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigCorrupt,
			"cloned repository does not contain a usable config.toml")
	}

	if err := deps.reconciler().Deploy(cfg); err != nil {
		return nil, err
	}

	result := &InitResult{ConfigDir: dir, ClonedFrom: url}
	for _, name := range cfg.SortedNames() {
		if cfg.Entries[name].Deployable() {
			result.Deployed = append(result.Deployed, name)
		}
	}
	return result, nil
}

// initCreateRepo authenticates with GitHub, creates a private config
// repository, and pushes an initial empty config to it.
func initCreateRepo(ctx context.Context, deps Deps) (*InitResult, error) {
	dir := deps.Paths.ConfigDir()

	hosts, err := ensureAuth(ctx, deps)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(hosts.Auth.Token)

	repo, err := client.CreateRepo(ctx, github.RepoCreateInfo{
		Name:        RepoName,
		Description: "Config files tracked by tether",
		Private:     true,
	})
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.Tether.SignatureSource = config.SignatureGitHub
	remoteURL := repo.SSHURL
	if cfg.Tether.GitProtocol == config.ProtocolHTTPS {
		remoteURL = repo.CloneURL
	}

	gitRepo, err := git.Init(dir, git.DefaultBranch, remoteURL)
	if err != nil {
		return nil, err
	}

	if err := cfg.Save(deps.Paths); err != nil {
		return nil, err
	}
	ignorePath := filepath.Join(dir, ".gitignore")
	if err := deps.FS.WriteFile(ignorePath, []byte(gitignoreBody), 0644); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "could not write %s", ignorePath)
	}

	sig, err := deps.signature(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := deps.commitAndMaybePush(ctx, gitRepo, sig, "Initialize tether config", true); err != nil {
		return nil, err
	}

	return &InitResult{ConfigDir: dir, RepoHTMLURL: repo.HTMLURL}, nil
}

// ensureAuth loads the cached GitHub credentials, running the OAuth
// device flow when none exist yet.
func ensureAuth(ctx context.Context, deps Deps) (*config.HostsFile, error) {
	hosts, err := config.LoadHosts(deps.Paths)
	if err == nil {
		return hosts, nil
	}
	if !errors.IsErrorCode(err, errors.ErrAuth) {
		return nil, err
	}

	client := github.NewClient("")
	auth, err := client.Authenticate(ctx, func(userCode, verificationURI string) {
		deps.printf("Open %s and enter the code %s to authorize tether.\n",
			verificationURI, userCode)
	})
	if err != nil {
		return nil, err
	}

	hosts = &config.HostsFile{Auth: auth}
	if err := hosts.Save(deps.Paths); err != nil {
		return nil, err
	}
	return hosts, nil
}

// moveContents moves every child of src into dst, including dotfiles.
func moveContents(deps Deps, src, dst string) error {
	children, err := deps.FS.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrInternal, "could not read %s", src)
	}
	for _, child := range children {
		from := filepath.Join(src, child.Name())
		to := filepath.Join(dst, child.Name())
		if err := deps.FS.Rename(from, to); err != nil {
			return errors.Wrapf(err, errors.ErrInternal,
				"could not move %s into %s", child.Name(), dst)
		}
	}
	return os.Remove(src)
}
