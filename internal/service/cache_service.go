package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/verify-ci/internal/metrics"
	"github.com/haatos/verify-ci/internal/store"
	"golang.org/x/sync/singleflight"
)

// CacheService stores dependency snapshots keyed by manifest hash. The
// index lives in the database, the archives in a BlobStore. The last
// writer for a key wins.
type CacheService struct {
	index store.CacheIndexStore
	blobs store.BlobStore
	group singleflight.Group
}

func NewCacheService(index store.CacheIndexStore, blobs store.BlobStore) *CacheService {
	return &CacheService{index: index, blobs: blobs}
}

// Fetch looks key up. A miss is reported with ok false and a nil error.
// Concurrent fetches of the same key share one backend lookup.
func (cs *CacheService) Fetch(ctx context.Context, key string) (*store.CacheEntry, bool, error) {
	v, err, _ := cs.group.Do(key, func() (any, error) {
		return cs.fetch(ctx, key)
	})
	if err != nil {
		metrics.CacheErrors.Add(1)
		return nil, false, err
	}
	ce, _ := v.(*store.CacheEntry)
	if ce == nil {
		metrics.CacheMisses.Add(1)
		return nil, false, nil
	}
	metrics.CacheHits.Add(1)
	return ce, true, nil
}

func (cs *CacheService) fetch(ctx context.Context, key string) (*store.CacheEntry, error) {
	ce, err := cs.index.ReadCacheEntry(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheError{Op: "read index", Key: key, Err: err}
	}
	blob, err := cs.blobs.Get(ctx, key)
	if errors.Is(err, store.ErrBlobNotFound) {
		if err := cs.index.DeleteCacheEntry(ctx, key); err != nil {
			log.Printf("err removing dangling cache entry %s: %+v\n", key, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, &CacheError{Op: "get", Key: key, Err: err}
	}
	if err := cs.index.TouchCacheEntry(ctx, key, time.Now().UTC()); err != nil {
		log.Printf("err touching cache entry %s: %+v\n", key, err)
	}
	ce.Blob = blob
	return ce, nil
}

// Store writes blob under key, replacing any previous snapshot.
func (cs *CacheService) Store(ctx context.Context, key string, blob []byte) error {
	if err := cs.blobs.Put(ctx, key, blob); err != nil {
		metrics.CacheErrors.Add(1)
		return &CacheError{Op: "put", Key: key, Err: err}
	}
	if err := cs.index.UpsertCacheEntry(ctx, key, int64(len(blob)), time.Now().UTC()); err != nil {
		metrics.CacheErrors.Add(1)
		return &CacheError{Op: "write index", Key: key, Err: err}
	}
	return nil
}

// Prune removes snapshots not used since before. Each index row is
// re-checked on delete, so an entry fetched or stored after listing
// survives along with its blob.
func (cs *CacheService) Prune(ctx context.Context, before time.Time) (int, error) {
	entries, err := cs.index.ListStaleCacheEntries(ctx, before)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, ce := range entries {
		deleted, err := cs.index.DeleteStaleCacheEntry(ctx, ce.CacheKey, before)
		if err != nil {
			return pruned, err
		}
		if !deleted {
			continue
		}
		// an orphaned blob is overwritten by the next store under its key
		if err := cs.blobs.Delete(ctx, ce.CacheKey); err != nil {
			log.Printf("err deleting cache blob %s: %+v\n", ce.CacheKey, err)
		}
		pruned++
	}
	return pruned, nil
}

func (cs *CacheService) SchedulePruning(s gocron.Scheduler, retention func() time.Duration) {
	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(1, 0, 0))),
		gocron.NewTask(func() {
			before := time.Now().UTC().Add(-retention())
			n, err := cs.Prune(context.Background(), before)
			if err != nil {
				log.Println("err pruning cache:", err)
				return
			}
			log.Printf("pruned %d cache entries unused since %s\n", n, before.Format(time.RFC3339))
		}),
	); err != nil {
		log.Fatal(err)
	}
}
