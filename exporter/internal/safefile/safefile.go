// Package safefile confines export writes to a base directory and bounds
// their size. Asset file names derive from page content (message ids,
// sender names), so every write goes through Join first.
package safefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxAsset caps a single image written into an export (32 MiB).
const MaxAsset int64 = 32 << 20

// ErrPathTraversal is returned when a name escapes its base directory.
var ErrPathTraversal = errors.New("safefile: path traversal detected")

// ErrTooLarge is returned when data exceeds the write limit.
var ErrTooLarge = errors.New("safefile: data exceeds size limit")

// Join joins base and name and verifies the result stays under base.
func Join(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	cleaned := filepath.Join(root, filepath.Clean("/"+name))
	if cleaned == root || !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// Write stores data at base/name through a temp file and rename, so a
// reader never sees a half-written file. max <= 0 disables the size check.
func Write(base, name string, data []byte, max int64) (string, error) {
	if max > 0 && int64(len(data)) > max {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), max)
	}
	path, err := Join(base, name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("safefile: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("safefile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("safefile: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("safefile: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("safefile: rename: %w", err)
	}
	return path, nil
}
