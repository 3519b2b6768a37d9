// Package version reports build metadata for the objrt binary.
package version

import "runtime/debug"

// Set by -ldflags "-X github.com/Sumatoshi-tech/objrt/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// InitBinaryVersion fills unset fields from the module build info when the
// binary was built without ldflags.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "none" {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String formats the version line printed by the version command.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
