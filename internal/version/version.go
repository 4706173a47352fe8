// Package version carries build metadata injected at release time.
package version

// Build information set by ldflags:
// -X github.com/tetherhq/tether/internal/version.Version={{.Version}}
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
