package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/noah-isme/gema-speaking-api/internal/observability"
)

// CacheKey identifies one question's recording for one student.
type CacheKey struct {
	StudentID     string
	AssignmentID  string
	QuestionIndex int
}

type cachedURL struct {
	source string
	signed string
}

// URLCache holds signed playback URLs. Entries remember the stored URL they were signed for,
// so a replaced recording never serves a stale signature.
type URLCache struct {
	lru *expirable.LRU[CacheKey, cachedURL]
}

// NewURLCache builds a cache. ttl must stay below the signature lifetime.
func NewURLCache(size int, ttl time.Duration) *URLCache {
	if size <= 0 {
		size = 1024
	}
	return &URLCache{lru: expirable.NewLRU[CacheKey, cachedURL](size, nil, ttl)}
}

// Get returns the signed URL cached for key when it was produced from source.
func (c *URLCache) Get(key CacheKey, source string) (string, bool) {
	entry, ok := c.lru.Get(key)
	if !ok || entry.source != source {
		observability.SignedURLCache().WithLabelValues("miss").Inc()
		return "", false
	}
	observability.SignedURLCache().WithLabelValues("hit").Inc()
	return entry.signed, true
}

func (c *URLCache) Add(key CacheKey, source, signed string) {
	c.lru.Add(key, cachedURL{source: source, signed: signed})
}

func (c *URLCache) Remove(key CacheKey) {
	c.lru.Remove(key)
}

func (c *URLCache) Len() int {
	return c.lru.Len()
}
