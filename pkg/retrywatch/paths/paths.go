// Package paths provides centralized path resolution for Retrywatch.
// All mutable state lives under a single state directory (~/.retrywatch),
// overridable through environment variables for containers and tests.
package paths

import (
	"os"
	"path/filepath"
)

// AppName is the application name used for the state directory.
const AppName = "retrywatch"

// StateDirEnv is the environment variable for a custom state directory.
const StateDirEnv = "RETRYWATCH_STATE_DIR"

// ConfigPathEnv is the environment variable for a custom config path.
const ConfigPathEnv = "RETRYWATCH_CONFIG_PATH"

// ResolveStateDir returns the state directory path.
// Precedence: RETRYWATCH_STATE_DIR > ~/.retrywatch > current directory.
func ResolveStateDir() string {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "."+AppName)
}

// ResolveConfigPath returns the config file path.
// Precedence: RETRYWATCH_CONFIG_PATH > <state dir>/config.yaml.
func ResolveConfigPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return filepath.Join(ResolveStateDir(), "config.yaml")
}

// ResolveHistoryDBPath returns the path of the SQLite stats-history database.
func ResolveHistoryDBPath() string {
	return filepath.Join(ResolveStateDir(), "retrywatch.db")
}

// EnsureStateDir creates the state directory if it does not exist.
func EnsureStateDir() (string, error) {
	dir := ResolveStateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
