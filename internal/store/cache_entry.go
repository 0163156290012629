package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("cache blob not found")
	ErrInvalidCacheKey = errors.New("invalid cache key")
)

var cacheKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateCacheKey rejects keys that could not be used verbatim as a file
// name or object key segment.
func ValidateCacheKey(key string) error {
	if !cacheKeyPattern.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: '%s'", ErrInvalidCacheKey, key)
	}
	return nil
}

// CacheEntry indexes an archived dependency snapshot. The archive itself
// lives in a BlobStore under the same key.
type CacheEntry struct {
	CacheKey   string    `json:"cache_key"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedOn  time.Time `json:"created_on"`
	LastUsedOn time.Time `json:"last_used_on"`

	Blob []byte `db:"-" json:"-"`
}

type CacheIndexStore interface {
	ReadCacheEntry(context.Context, string) (*CacheEntry, error)
	UpsertCacheEntry(context.Context, string, int64, time.Time) error
	TouchCacheEntry(context.Context, string, time.Time) error
	ListStaleCacheEntries(context.Context, time.Time) ([]CacheEntry, error)
	DeleteCacheEntry(context.Context, string) error
	DeleteStaleCacheEntry(context.Context, string, time.Time) (bool, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
