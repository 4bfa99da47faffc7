package version

// Injected at build time via -ldflags "-X .../pkg/version.Version=..."
var (
	Version       = "dev"
	GitCommit     = "unknown"
	BuildDate     = "unknown"
	ComponentName = "unknown" // streamviewer, camwatch
)

// Info represents version information for a binary
type Info struct {
	Version       string `json:"version"`
	GitCommit     string `json:"git_commit"`
	BuildDate     string `json:"build_date"`
	ComponentName string `json:"component_name,omitempty"`
}

// GetInfo returns version information as a struct
func GetInfo() Info {
	return Info{
		Version:       Version,
		GitCommit:     GitCommit,
		BuildDate:     BuildDate,
		ComponentName: ComponentName,
	}
}

// GetShortCommit returns the short git commit hash (first 7 characters)
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// String renders "component version (commit)" for banners and the CLI.
func String() string {
	return ComponentName + " " + Version + " (" + GetShortCommit() + ")"
}
