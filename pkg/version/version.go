package version

// Injected at build time through -ldflags.
var (
	// Version is the semantic version of this build, e.g. v0.4.0.
	Version = "unknown"
	// GitCommit is the short commit hash this build was produced from.
	GitCommit = "unknown"
)
