package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"crimson-pen/apperrors"
	"crimson-pen/models"
)

// FileHistoryBackend persists the history as an indented JSON array
// (docs/data.json by default). Writes go through a temp file and rename.
type FileHistoryBackend struct {
	path string
}

func NewFileHistoryBackend(path string) *FileHistoryBackend {
	return &FileHistoryBackend{path: path}
}

func (b *FileHistoryBackend) Location() string { return b.path }

func (b *FileHistoryBackend) Read(_ context.Context) (models.History, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var h models.History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, apperrors.StoreCorrupt(b.path, err)
	}
	for i, r := range h {
		if r.Date == "" {
			return nil, apperrors.StoreCorrupt(b.path, fmt.Errorf("record %d has no date", i))
		}
	}
	return h, nil
}

func (b *FileHistoryBackend) Write(_ context.Context, h models.History) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return WriteFileAtomic(b.path, buf.Bytes())
}

// WriteFileAtomic replaces path with data via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
