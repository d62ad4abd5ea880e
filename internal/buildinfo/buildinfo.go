// Package buildinfo exposes version metadata stamped at build time.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These are overridden by -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line human-readable version string.
func String() string {
	return fmt.Sprintf("mymeta %s (%s)", Version, GitCommit)
}

// UserAgent returns the User-Agent header value for outbound HTTP calls.
func UserAgent() string {
	return fmt.Sprintf("mymeta/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// BuildInfo returns all build metadata as a map for structured output.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
