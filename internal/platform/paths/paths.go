// Package paths resolves the on-disk layout used for config and reports.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDataRoot = "/var/lib/pi-camera-control"
)

// ResolveDataRoot returns the absolute path to the service's data directory.
func ResolveDataRoot() string {
	root := os.Getenv("PI_CAMERA_DATA_ROOT")
	if root == "" {
		root = DefaultDataRoot
	}
	return root
}

// ResolveConfigPath returns the path to the configuration file: customPath,
// else $PI_CAMERA_CONFIG, else the relative path config/default.yaml. The
// result is not made absolute.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	if env := os.Getenv("PI_CAMERA_CONFIG"); env != "" {
		return env
	}
	return "config/default.yaml"
}

// ReportsDir and UnsavedSessionPath locate the persisted-state layout of §6.
func ReportsDir(dataRoot string) string {
	return filepath.Join(dataRoot, "timelapse-reports", "reports")
}

func UnsavedSessionPath(dataRoot string) string {
	return filepath.Join(dataRoot, "timelapse-reports", "unsaved-session.json")
}

// EnsureDirs creates the standard data subdirectories if they don't exist.
func EnsureDirs(dataRoot string) error {
	subdirs := []string{
		filepath.Join("timelapse-reports", "reports"),
	}

	for _, sub := range subdirs {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(absJoined, absBase) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
