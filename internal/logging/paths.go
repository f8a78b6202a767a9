package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.notes-rag/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".notes-rag", "logs")
	}
	return filepath.Join(home, ".notes-rag", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "ragctl.log")
}

// FindLogFile resolves the log file to view: an explicit path if given,
// otherwise the default log path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no log file found. Run a ragctl command first.\nExpected at: %s", path)
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
