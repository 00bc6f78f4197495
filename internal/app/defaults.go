package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BUDGETSYNC_CONFIG_PATH: config file location (default: ~/.config/budgetsync.toml)
//   - BUDGETSYNC_HOME: base directory for budgetsync data (default: ~/.local/share/budgetsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadDotEnv loads environment variables from path (usually ".env") without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the config file path, checking BUDGETSYNC_CONFIG_PATH
// first, then falling back to ~/.config/budgetsync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("BUDGETSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "budgetsync.toml"), nil
}

// getBaseDir returns the base directory for budgetsync data, checking
// BUDGETSYNC_HOME first, then falling back to ~/.local/share/budgetsync.
func getBaseDir() (string, error) {
	if path := os.Getenv("BUDGETSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "budgetsync"), nil
}
