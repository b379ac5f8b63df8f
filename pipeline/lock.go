package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// RunLock is a lock file created with O_EXCL so two publisher processes
// never write the history at the same time.
type RunLock struct {
	path string
}

// AcquireRunLock creates path or fails when another run holds it.
func AcquireRunLock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another run holds the lock %s", path)
		}
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock %s: %w", path, err)
	}
	return &RunLock{path: path}, nil
}

// Release removes the lock file. Safe to call on a nil lock.
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
