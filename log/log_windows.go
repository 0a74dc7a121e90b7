//go:build windows

package log

import "path/filepath"

const appDir = "carebridge"

func platformDir(home string, getenv func(string) string) string {
	base := getenv("LOCALAPPDATA")
	if base == "" {
		base = filepath.Join(home, "AppData", "Local")
	}
	return filepath.Join(base, appDir, "logs")
}
