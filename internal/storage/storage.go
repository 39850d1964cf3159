package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/onetimeview/onetimeview/internal/config"
)

// ErrNotExist is returned by Open when no file is stored under the path.
var ErrNotExist = errors.New("file does not exist")

// Storage defines the interface for file storage operations
type Storage interface {
	// Save stores the stream under path and returns the number of bytes written
	Save(ctx context.Context, path string, r io.Reader) (int64, error)

	// Open returns a reader for the file at path. The reader implements
	// io.ReadSeeker when the backend can serve ranges.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the file at path. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
}

// Error records a failed storage operation and the path it touched.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates the storage backend selected by STORAGE_DRIVER.
func New(c *config.Config) (Storage, error) {
	switch c.StorageDriver {
	case config.StorageS3:
		slog.Info("initializing S3 storage",
			"bucket", c.S3Bucket,
			"region", c.S3Region,
			"endpoint", c.S3Endpoint,
		)
		return NewS3Storage(S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Endpoint:  c.S3Endpoint,
		})
	case config.StorageLocal:
		slog.Info("initializing local storage", "dir", c.UploadDir)
		return NewLocalStorage(c.UploadDir)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", c.StorageDriver)
	}
}
