package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the home directory of the dashboard
const HomeEnv = "CLAUDIOMIRO_UI_HOME"

// GetHome returns the directory holding the journal and default logs.
// Priority order:
//  1. CLAUDIOMIRO_UI_HOME environment variable (if set)
//  2. ~/.claudiomiro-ui
//  3. .claudiomiro-ui in the working directory (fallback)
//
// The directory is created if it doesn't exist
func GetHome() (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		if userHome, err := os.UserHomeDir(); err == nil && userHome != "" {
			home = filepath.Join(userHome, ".claudiomiro-ui")
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("get working directory: %w", err)
			}
			home = filepath.Join(cwd, ".claudiomiro-ui")
		}
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create home directory: %w", err)
	}
	return home, nil
}

// GetJournalDBPath returns the default journal location: $HOME/journal/events.db
func GetJournalDBPath() (string, error) {
	home, err := GetHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "journal", "events.db"), nil
}
