package paths

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns ~/.presenced, the default data directory.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".presenced")
}

// DBPath returns the user database path under the data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "presenced.db")
}

// LockPath returns the single-instance lock file path.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "LOCK")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "presenced.log")
}

// ConfigPath returns the default config file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// EnsureDirs creates the data directory tree with restrictive permissions.
func EnsureDirs(dataDir string) error {
	for _, d := range []string{dataDir, LogDir(dataDir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
