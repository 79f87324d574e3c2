package ports

import (
	"context"
	"io"
	"mime"
	"path"
	"time"
)

// DefaultContentType is used when a key's extension maps to no known type.
const DefaultContentType = "application/octet-stream"

type PutObjectInput struct {
	ObjectKey string
	// ContentType overrides the type derived from ObjectKey when set.
	ContentType string
	Reader      io.Reader
	// Size is -1 when unknown.
	Size int64
}

type PutObjectOutput struct {
	ObjectKey   string
	ContentType string
	Size        int64
	// URL is the object's base URL followed by a read-only signed query.
	URL       string
	ExpiresAt time.Time
}

// ObjectStore is the blob client contract. Implementations: azureblob, s3,
// localfs. Puts always overwrite.
type ObjectStore interface {
	Provider() string

	// CheckContainer verifies the configured container exists.
	CheckContainer(ctx context.Context) error
	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	// DeleteObject removes key. A missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
}

// ContentType returns the MIME type for key's extension, falling back to
// DefaultContentType.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// ResolveContentType prefers an explicit type on the input.
func (in PutObjectInput) ResolveContentType() string {
	if in.ContentType != "" {
		return in.ContentType
	}
	return ContentType(in.ObjectKey)
}
