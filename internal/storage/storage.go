// Package storage abstracts where finished renders land. Cloud backends
// live behind the Uploader interface; the in-tree implementation writes to
// a local directory.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// UploadError means the encode succeeded but the artifact could not be
// persisted. The local artifact is kept until the attempt is abandoned.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader persists a local file under a key and returns its durable
// location.
type Uploader interface {
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)
}

// Local stores artifacts under a root directory on the worker host.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) Upload(_ context.Context, localPath, key, _ string) (string, error) {
	dest := filepath.Join(l.Root, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	defer src.Close()
	dst, err := os.Create(dest)
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", &UploadError{Key: key, Err: err}
	}
	if err := dst.Close(); err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	return dest, nil
}
