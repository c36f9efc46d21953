package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

// ObjectStore holds run artifacts: reports, edited images and checkpoints.
// Keys are slash separated and relative to the store root.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	// GetObject returns ErrObjectNotFound when key does not exist.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, prefix string) error

	// Location is a human readable address for key, used in logs and
	// reports.
	Location(key string) string
}
