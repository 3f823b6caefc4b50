package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// DefaultPublicPathMarker is the path segment that precedes object keys in legacy public URLs.
const DefaultPublicPathMarker = "/storage/v1/object/public/"

var (
	// ErrObjectExists is returned by non-overwriting uploads when the key is taken.
	ErrObjectExists = errors.New("object already exists")
	// ErrNotConfigured is returned when a backend is missing credentials.
	ErrNotConfigured = errors.New("storage backend not configured")
)

// UploadOptions tune a single upload.
type UploadOptions struct {
	ContentType string
	Overwrite   bool
}

// Store is the blob store used for recordings.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error
	PublicURL(path string) string
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	ObjectPath(publicURL string) string
}

// PathFromURL recovers an object key from a public URL by taking everything after marker and
// collapsing a doubled recordings/ segment. URLs without the marker are returned unchanged.
func PathFromURL(fullURL, marker string) string {
	parsed, err := url.Parse(fullURL)
	if err != nil || parsed.Path == "" || marker == "" {
		return fullURL
	}

	_, rest, found := strings.Cut(parsed.Path, marker)
	if !found || rest == "" {
		return fullURL
	}
	return strings.Replace(rest, "recordings/recordings/", "recordings/", 1)
}

func bucketMarker(bucket, override string) string {
	if override != "" {
		return override
	}
	return "/" + strings.Trim(bucket, "/") + "/"
}
