// Package version reports the modserve build version.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// Set with -ldflags "-X github.com/conneroisu/modserve/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// GetBuildInfo collects ldflags values, falling back to the build
// settings the Go toolchain embeds.
func GetBuildInfo() *BuildInfo {
	built := parseBuildTime(BuildTime)
	if built.IsZero() {
		built = parseBuildTime(vcsSetting("vcs.time"))
	}

	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: built,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion returns the ldflags version, else the module version, else "dev".
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}

// GetGitCommit returns the commit hash or "unknown".
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := vcsSetting("vcs.revision"); rev != "" {
		return rev
	}

	return "unknown"
}

func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}

	return ""
}

// GetShortVersion returns "version (commit7)", "dev-commit7" or the bare
// version.
func GetShortVersion() string {
	v, commit := GetVersion(), GetGitCommit()
	if commit == "unknown" || len(commit) < 7 {
		return v
	}
	if v == "dev" {
		return "dev-" + commit[:7]
	}

	return v + " (" + commit[:7] + ")"
}

// ServerHeader is the value modserve sends in the Server response header.
func ServerHeader() string {
	return "modserve/" + strings.ReplaceAll(GetVersion(), " ", "")
}

// GetDetailedVersion lists every known build field, one per line.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)

	return strings.Join(lines, "\n")
}

func parseBuildTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
