package version

// Version is the current pulse release.
const Version = "0.4.0"

// BuildVersion returns the version string printed by the CLI.
func BuildVersion() string {
	return "pulse version " + Version
}

// APIVersion returns the bare version number reported by /health.
func APIVersion() string {
	return Version
}
