package workspace

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Layout maps (base, resource hash, module) to deterministic on-disk
// directories under one root:
//
//	<root>/<base_id>/<resource_hash_hex>/<module_id>/...
//
// Directories are partitioned so that no two concurrent preprocessing
// tasks ever write the same path.
type Layout struct {
	root string
}

// New creates a layout rooted at root, creating the directory if needed
func New(root string) (*Layout, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Layout{root: root}, nil
}

// Dir returns the workspace directory for one preprocessing invocation
func (l *Layout) Dir(baseID int64, resourceHash []byte, moduleID string) string {
	return filepath.Join(
		l.root,
		strconv.FormatInt(baseID, 10),
		hex.EncodeToString(resourceHash),
		moduleID,
	)
}

// EnsureDir creates and returns the workspace directory for one
// preprocessing invocation.
func (l *Layout) EnsureDir(baseID int64, resourceHash []byte, moduleID string) (string, error) {
	dir := l.Dir(baseID, resourceHash, moduleID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return dir, nil
}

// LatestCacheDir returns the workspace of a previous preprocessing of a
// related resource, or "" when none exists on disk.
func (l *Layout) LatestCacheDir(baseID int64, fromResourceHash []byte, moduleID string) string {
	dir := l.Dir(baseID, fromResourceHash, moduleID)
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

// RemoveResourceDir recursively deletes everything derived from one
// resource hash in a base. Missing directories are not an error.
func (l *Layout) RemoveResourceDir(baseID int64, resourceHash []byte) error {
	dir := filepath.Join(
		l.root,
		strconv.FormatInt(baseID, 10),
		hex.EncodeToString(resourceHash),
	)
	return os.RemoveAll(dir)
}

// ScratchDir creates a uniquely named scratch directory under parent.
// Preprocessing modules stage output in one before publishing it into
// their workspace; callers remove it when done.
func ScratchDir(parent string) (string, error) {
	dir := filepath.Join(parent, "tmp", uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}
