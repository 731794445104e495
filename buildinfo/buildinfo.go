// Package buildinfo holds the binary version information.
package buildinfo

// Build vars, that must be passed at build time.
var (
	VersionTag = ""
	GitCommit  = ""
)
