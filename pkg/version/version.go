package version

import (
	"fmt"
	"runtime/debug"
)

// Version is overridden with -ldflags on release builds; development builds
// fall back to the vcs metadata the toolchain embeds.
var Version = "dev"

func String() string {
	commit := "unknown"
	at := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if len(setting.Value) >= 8 {
					commit = setting.Value[:8]
				}
			case "vcs.time":
				at = setting.Value
			}
		}
	}
	if at != "" {
		return fmt.Sprintf("%s (%s %s)", Version, commit, at)
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}
