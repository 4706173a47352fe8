package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/paths"
)

// AuthHost holds an OAuth token for the hosting API.
type AuthHost struct {
	Token     string   `toml:"token"`
	TokenType string   `toml:"token_type"`
	Scopes    []string `toml:"scopes"`
}

// AuthUser is the resolved identity used for commit signatures.
type AuthUser struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// HostsFile caches credentials and identity between runs. It lives next
// to config.toml but is listed in .gitignore and never committed.
type HostsFile struct {
	User *AuthUser `toml:"user,omitempty"`
	Auth *AuthHost `toml:"auth"`
}

// LoadHosts reads hosts.toml. A missing file returns an AUTH error so
// callers can fall back to a fresh authentication flow.
func LoadHosts(p paths.Paths) (*HostsFile, error) {
	data, err := os.ReadFile(p.HostsFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrAuth, "no cached credentials, authentication required")
		}
		return nil, errors.Wrapf(err, errors.ErrAuth, "could not read %s", p.HostsFile())
	}
	var hosts HostsFile
	if err := toml.Unmarshal(data, &hosts); err != nil {
		return nil, errors.Wrapf(err, errors.ErrAuth, "could not parse %s", p.HostsFile())
	}
	if hosts.Auth == nil || hosts.Auth.Token == "" {
		return nil, errors.New(errors.ErrAuth, "cached credentials are empty, authentication required")
	}
	return &hosts, nil
}

// Save writes hosts.toml with owner-only permissions.
func (h *HostsFile) Save(p paths.Paths) error {
	data, err := toml.Marshal(h)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "could not serialize hosts file")
	}
	if err := os.MkdirAll(p.ConfigDir(), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrInternal, "could not create %s", p.ConfigDir())
	}
	if err := os.WriteFile(p.HostsFile(), data, 0600); err != nil {
		return errors.Wrapf(err, errors.ErrInternal, "could not write %s", p.HostsFile())
	}
	return nil
}
