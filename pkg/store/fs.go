package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSScreenshotStore writes screenshots under root/<runID>/<stepID>.png and
// returns the relative path as the reference.
type FSScreenshotStore struct {
	root string
}

var _ ScreenshotStore = (*FSScreenshotStore)(nil)

func NewFSScreenshotStore(root string) (*FSScreenshotStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot root %s: %w", root, err)
	}
	return &FSScreenshotStore{root: root}, nil
}

func (s *FSScreenshotStore) SaveScreenshot(_ context.Context, runID, stepID string, data []byte) (string, error) {
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("screenshot dir for run %s: %w", runID, err)
	}
	rel := filepath.Join(runID, stepID+".png")
	if err := os.WriteFile(filepath.Join(s.root, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot %s: %w", rel, err)
	}
	return rel, nil
}
