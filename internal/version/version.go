// Package version provides the native transaction journal's version string.
// The version is set at build time via -ldflags.
package version

// Version is the current journal format/tooling version.
// Override at build time: go build -ldflags "-X github.com/flashdb/ntj/internal/version.Version=1.0.0"
var Version = "1.0.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/flashdb/ntj/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"
