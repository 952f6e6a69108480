package api

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Release stamps, set with -ldflags "-X .../internal/api.EngineVersion=...".
// Unset stamps fall back to the build info the Go toolchain embeds.
var (
	EngineVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

var buildInfo = sync.OnceValue(func() VersionInfo {
	v := VersionInfo{
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	return stampFromBuild(v, bi)
})

// stampFromBuild fills the stamps left at their defaults from bi.
func stampFromBuild(v VersionInfo, bi *debug.BuildInfo) VersionInfo {
	if v.EngineVersion == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.EngineVersion = bi.Main.Version
	}
	if bi.GoVersion != "" {
		v.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if v.GitCommit == "unknown" {
				v.GitCommit = s.Value
			}
		case "vcs.time":
			if v.BuildTime == "unknown" {
				v.BuildTime = s.Value
			}
		case "vcs.modified":
			v.Modified = s.Value == "true"
		}
	}
	return v
}

// GetVersionInfo reports the running binary's version.
func GetVersionInfo() VersionInfo { return buildInfo() }
