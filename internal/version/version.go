// Package version centralizes the release version string.
package version

// Version is the current release, overridable at build time:
// go build -ldflags "-X github.com/standardbeagle/uci/internal/version.Version=v1.2.3"
var Version = "0.1.0-dev"
