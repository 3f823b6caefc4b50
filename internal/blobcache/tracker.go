package blobcache

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
)

// DefaultPathPrefix is the route under which tracked blobs are served.
const DefaultPathPrefix = "/api/v2/speaking/blobs/"

// ErrNotFound is returned when a URL was revoked, expired, or never issued.
var ErrNotFound = errors.New("blob not found")

// Tracker issues short-lived local URLs for finished recordings so clients can play them back
// before the upload completes. URLs are revoked explicitly when a recording is replaced.
type Tracker struct {
	cache  *gocache.Cache
	prefix string
	logger zerolog.Logger
}

// NewTracker builds a tracker whose entries expire after ttl unless revoked earlier.
func NewTracker(ttl time.Duration, prefix string, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Tracker{
		cache:  gocache.New(ttl, ttl/2),
		prefix: prefix,
		logger: logger.With().Str("component", "blob_tracker").Logger(),
	}
}

// Track stores the blob and returns its local URL.
func (t *Tracker) Track(blob *audio.Blob) string {
	id := uuid.NewString()
	t.cache.SetDefault(id, blob)
	return t.prefix + id
}

// Resolve returns the blob behind an id or a full URL.
func (t *Tracker) Resolve(ref string) (*audio.Blob, error) {
	value, ok := t.cache.Get(t.idFrom(ref))
	if !ok {
		return nil, ErrNotFound
	}
	blob, ok := value.(*audio.Blob)
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}

// Revoke drops a previously issued URL. Unknown URLs are ignored.
func (t *Tracker) Revoke(url string) {
	if url == "" {
		return
	}
	id := t.idFrom(url)
	if _, ok := t.cache.Get(id); !ok {
		return
	}
	t.cache.Delete(id)
	t.logger.Debug().Str("blob_id", id).Msg("blob url revoked")
}

// Owns reports whether url was issued by this tracker.
func (t *Tracker) Owns(url string) bool {
	return strings.HasPrefix(url, t.prefix)
}

// Active returns the number of live URLs.
func (t *Tracker) Active() int {
	return t.cache.ItemCount()
}

func (t *Tracker) idFrom(ref string) string {
	return strings.TrimPrefix(ref, t.prefix)
}
