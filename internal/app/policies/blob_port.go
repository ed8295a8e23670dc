package policies

import (
	"context"
	"io"
)

// BlobUploader stores binary content and returns the URL it is served from.
type BlobUploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (publicURL string, err error)
}
