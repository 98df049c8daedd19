package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// FileStore keeps the snapshot document in a single file.
//
// Saves write a temporary file in the same directory, fsync it and rename it
// over the target, so a crash leaves either the old or the new document.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the document. A missing file is not an error.
func (f *FileStore) Load(_ context.Context) (*access.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}
	return snap, nil
}

// Save replaces the document atomically.
func (f *FileStore) Save(ctx context.Context, snap *access.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicWriteFile(f.path, data)
}

func atomicWriteFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()        //nolint:errcheck // already failing
			os.Remove(tmpPath) //nolint:errcheck // already failing
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing snapshot file: %w", err)
	}

	// Persist the rename itself. Not all platforms can fsync a directory.
	if d, derr := os.Open(dir); derr == nil {
		d.Sync()  //nolint:errcheck // best effort
		d.Close() //nolint:errcheck // read-only handle
	}
	return nil
}
