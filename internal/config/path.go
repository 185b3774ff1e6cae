package config

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

// Directory and file names under the data dir.
const (
	pebbleDirName  = "pebble"
	effectsDBName  = "effects.db"
	appDirName     = "pulse"
	appDirNameDots = ".pulse"
)

// Layout is where one node keeps its files.
type Layout struct {
	Root string
	// Pebble holds the event log and the run state.
	Pebble string
	// Effects is the SQLite database written by the effect handlers.
	Effects string
}

// LayoutFor resolves the file layout under dir, or under DefaultDataDir
// when dir is empty.
func LayoutFor(dir string) Layout {
	if dir == "" {
		dir = DefaultDataDir()
	}
	return Layout{
		Root:    dir,
		Pebble:  filepath.Join(dir, pebbleDirName),
		Effects: filepath.Join(dir, effectsDBName),
	}
}

// DefaultDataDir picks the data directory when none is configured.
// XDG_DATA_HOME wins; a root process uses /var/lib/pulse; other users get the
// per-OS application data dir under their home, or ./data without a home.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	if os.Geteuid() == 0 && isDir("/var/lib") {
		return filepath.Join("/var/lib", appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Pulse")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Pulse")
		}
		return filepath.Join(home, "AppData", "Local", "Pulse")
	}
	if isDir(filepath.Join(home, ".local", "share")) {
		return filepath.Join(home, ".local", "share", appDirName)
	}
	return filepath.Join(home, appDirNameDots)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
