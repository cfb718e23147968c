package storage

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"gifmill/internal/ports"
)

// Provider is the storage contract used across API and Worker.
type Provider = ports.StorageProvider

// Publish mirrors the artifact at root/relPath under relPath.
func Publish(ctx context.Context, p Provider, root, relPath string) (ports.PutObjectOutput, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer f.Close()

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return p.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   filepath.ToSlash(relPath),
		ContentType: mime.TypeByExtension(filepath.Ext(relPath)),
		Reader:      f,
		Size:        size,
	})
}
