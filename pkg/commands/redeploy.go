package commands

import (
	"github.com/tetherhq/tether/pkg/logging"
)

// Redeploy recreates the symlinks for the named entries, or for every
// deployable entry when no names are given. Useful after moving the
// config directory or on a freshly restored machine.
func Redeploy(deps Deps, names ...string) error {
	log := logging.GetLogger("commands.redeploy")

	return deps.withLock(func() error {
		cfg, err := deps.loadConfig()
		if err != nil {
			return err
		}
		if err := deps.reconciler().Deploy(cfg, names...); err != nil {
			return err
		}
		log.Info().Int("entries", len(cfg.Entries)).Msg("Redeployed symlinks")
		return nil
	})
}
