package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the sleuth home directory (default ~/.sleuth).
const HomeEnv = "SLEUTH_HOME"

// DefaultConfigDir returns $SLEUTH_HOME, or ~/.sleuth when it is unset.
func DefaultConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".sleuth"), nil
}

// DefaultConfigPath is config.yaml under DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	return inConfigDir("config.yaml")
}

// DefaultDataPath is the sqlite checkpoint database under DefaultConfigDir.
func DefaultDataPath() (string, error) {
	return inConfigDir("data.db")
}

// DefaultLogDir holds log files written by `log.file` when it is relative.
func DefaultLogDir() (string, error) {
	return inConfigDir("logs")
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ExpandPath expands environment variables, then a leading ~ to the user's
// home directory.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
