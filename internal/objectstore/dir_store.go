package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// ErrDirEmpty indicates the store was constructed without a directory.
var ErrDirEmpty = errors.New("artifact directory cannot be empty")

// DirStore implements core.ObjectStore on a local directory. Artifacts are
// addressed by filename; the external route layer serves them under the
// configured URL prefix. Used when no broker bucket is configured.
type DirStore struct {
	dir     string
	baseURL string
}

// NewDirStore ensures the directory exists and returns a store rooted there.
func NewDirStore(dir, baseURL string) (*DirStore, error) {
	if dir == "" {
		return nil, ErrDirEmpty
	}

	mkdirErr := os.MkdirAll(dir, dirPermissions)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create artifact directory '%s': %w", dir, mkdirErr)
	}

	return &DirStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Upload streams the reader into a file named by key. A temp-then-rename
// write keeps partially synthesized artifacts from ever being addressable.
func (s *DirStore) Upload(_ context.Context, key string, data io.Reader) (int64, error) {
	target := filepath.Join(s.dir, filepath.Base(key))

	tempFile, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp artifact: %w", err)
	}

	written, copyErr := io.Copy(tempFile, data)
	closeErr := tempFile.Close()

	if copyErr != nil {
		_ = os.Remove(tempFile.Name())

		return 0, fmt.Errorf("write artifact '%s': %w", key, copyErr)
	}

	if closeErr != nil {
		_ = os.Remove(tempFile.Name())

		return 0, fmt.Errorf("close artifact '%s': %w", key, closeErr)
	}

	if err := os.Chmod(tempFile.Name(), filePermissions); err != nil {
		_ = os.Remove(tempFile.Name())

		return 0, fmt.Errorf("chmod artifact '%s': %w", key, err)
	}

	if err := os.Rename(tempFile.Name(), target); err != nil {
		_ = os.Remove(tempFile.Name())

		return 0, fmt.Errorf("publish artifact '%s': %w", key, err)
	}

	return written, nil
}

// URL maps a storage key to the path the route layer serves it under.
func (s *DirStore) URL(key string) string {
	return s.baseURL + "/" + filepath.Base(key)
}
