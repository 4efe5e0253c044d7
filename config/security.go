package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Limits for scenario files and environment values
	maxScenarioSize = 1 << 20 // 1MB max scenario file size
	maxEnvVarLen    = 10000   // Maximum environment variable value length
	maxPathLen      = 4096    // Maximum file path length
)

var scenarioExtensions = []string{".yaml", ".yml", ".json"}

// validateScenarioPath does basic path validation
func validateScenarioPath(path string) error {
	if path == "" {
		return errors.New("empty scenario path")
	}

	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range scenarioExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("only YAML or JSON scenario files allowed: %s", path)
}

// safeReadFile reads a scenario file after path, type and size checks
func safeReadFile(path string) ([]byte, error) {
	if err := validateScenarioPath(path); err != nil {
		return nil, fmt.Errorf("invalid scenario path: %w", err)
	}

	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat scenario file: %w", err)
	}

	if info.Size() > maxScenarioSize {
		return nil, fmt.Errorf("scenario file too large: %d bytes > %d", info.Size(), maxScenarioSize)
	}

	// Check if it's a regular file (not symlink, directory, etc.)
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read scenario file: %w", err)
	}

	return data, nil
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if value == "" {
		return nil
	}

	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}

	return nil
}
