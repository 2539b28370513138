package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileDestination writes dumps to a local file, replacing it atomically.
type FileDestination struct {
	Path string
}

func (d FileDestination) String() string {
	return d.Path
}

func (d FileDestination) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(d.Path)
	tmp, err := os.CreateTemp(dir, ".cogstore-backup-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), d.Path); err != nil {
		return fmt.Errorf("rename to %s: %w", d.Path, err)
	}
	return nil
}
