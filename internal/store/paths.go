package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFile is the database file name inside the data directory.
const DBFile = "meccsim.db"

// DefaultDataDir returns the path to the global data directory.
// On Unix: ~/.meccsim
// On Windows: %USERPROFILE%\.meccsim
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".meccsim"), nil
}

// EnsureDataDir creates dir if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
