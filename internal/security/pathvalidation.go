// Package security validates filesystem paths derived from request
// input, keeping snapshot names and uploaded video names inside their
// storage directories.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside safeDir.
// It guards against traversal components (..) and absolute paths smuggled
// in through request-supplied file names.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory: %w", err)
	}

	rel, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, safeDir)
	}
	return nil
}

// SanitizeBaseName strips any directory components from a
// request-supplied file name and rejects empty or hidden results.
func SanitizeBaseName(name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("hidden file name %q not allowed", name)
	}
	return base, nil
}
