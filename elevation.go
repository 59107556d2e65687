package invoxy

import (
	"os"
	"slices"
)

// processElevated is the default elevation check: effective uid 0. On
// platforms without uids os.Geteuid returns -1, which reads as not elevated.
// SessionConfig.ElevatedCheck overrides this for tests and non-POSIX setups.
func processElevated() bool {
	return os.Geteuid() == 0
}

// elevationGranted decides stage two of the pipeline for a tool that declares
// RequiresElevation: either the process itself is elevated, or the tool is on
// the session allow-list and the session carries the pre-approval flag.
func (cfg *SessionConfig) elevationGranted(tool string) bool {
	check := cfg.ElevatedCheck
	if check == nil {
		check = processElevated
	}
	if check() {
		return true
	}
	return cfg.ElevationApproved && slices.Contains(cfg.ElevationAllowlist, tool)
}
