package config

import (
	"os"
	"path/filepath"
)

// ConfigEnv overrides the configuration file location.
const ConfigEnv = "LEANGYM_CONFIG"

// GetConfigPath returns $LEANGYM_CONFIG, or ~/.leangym/config when unset.
func GetConfigPath() (string, error) {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".leangym", "config"), nil
}
