//go:build !windows

package log

import (
	"path/filepath"
	"runtime"
)

const appDir = "carebridge"

// platformDir is ~/Library/Logs/carebridge on macOS and
// $XDG_CONFIG_HOME/carebridge/logs everywhere else.
func platformDir(home string, getenv func(string) string) string {
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", appDir)
	}
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDir, "logs")
}
