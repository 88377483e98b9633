package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

const shortCommitLength = 12

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"

	//nolint:gochecknoglobals // Build info never changes after start.
	resolveOnce sync.Once
	//nolint:gochecknoglobals // Build info never changes after start.
	resolved Info
)

// Info describes the running binary.
type Info struct {
	// Version is the semantic version.
	Version string
	// Commit is the source revision.
	Commit string
	// BuildTime is when the binary was built.
	BuildTime string
	// GoVersion is the toolchain that built the binary.
	GoVersion string
}

// Get returns the build information, filling gaps from the Go build info.
func Get() Info {
	resolveOnce.Do(func() {
		resolved = Info{
			Version:   Version,
			Commit:    Commit,
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
		}

		buildInfo, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				if resolved.Commit == "none" {
					resolved.Commit = setting.Value[:min(len(setting.Value), shortCommitLength)]
				}
			case "vcs.time":
				if resolved.BuildTime == "unknown" {
					resolved.BuildTime = setting.Value
				}
			}
		}
	})

	return resolved
}

// Short returns only the semantic version string.
func Short() string {
	return Get().Version
}

// Full returns a human-readable version string with commit, build time and Go version.
func Full() string {
	info := Get()

	return fmt.Sprintf("version: %s, commit: %s, built at: %s, go: %s",
		info.Version, info.Commit, info.BuildTime, info.GoVersion)
}
