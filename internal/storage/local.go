package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps files in a single directory on disk.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	err := os.MkdirAll(dir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

// resolve maps a storage key to a file inside the upload directory.
// Keys are generated server side; anything that would escape the
// directory is rejected.
func (s *LocalStorage) resolve(path string) (string, error) {
	if path == "" || strings.ContainsAny(path, `/\`) || path == "." || path == ".." {
		return "", fmt.Errorf("invalid storage key %q", path)
	}
	return filepath.Join(s.dir, path), nil
}

// Save writes to a temp file first and renames it into place, so a failed
// upload never leaves a partial file under the final key.
func (s *LocalStorage) Save(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, &Error{Op: "save", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, &Error{Op: "save", Path: path, Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return n, &Error{Op: "save", Path: path, Err: err}
	}
	err = tmp.Close()
	if err != nil {
		return n, &Error{Op: "save", Path: path, Err: err}
	}

	err = os.Rename(tmp.Name(), full)
	if err != nil {
		return n, &Error{Op: "save", Path: path, Err: err}
	}

	return n, nil
}

func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Op: "open", Path: path, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	return f, nil
}

func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return &Error{Op: "delete", Path: path, Err: err}
	}

	err = os.Remove(full)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Path: path, Err: err}
	}

	return nil
}

// contextReader stops a copy once the request context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
