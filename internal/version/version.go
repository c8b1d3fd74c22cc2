// Package version holds the generator version string.
package version

// Version is the generator version, stamped into provenance headers.
// Overridable at link time: -ldflags "-X .../internal/version.Version=..."
var Version = "0.9.2"
