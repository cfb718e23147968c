package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	// ObjectKey is the artifact path relative to the upload root.
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs: same as the input key. gdrive: the Drive file id.
	ObjectKey string
	Size      int64
}

// StorageProvider mirrors finished artifacts (localfs, gdrive).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
