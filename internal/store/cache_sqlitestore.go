package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type CacheSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewCacheSQLiteStore(rdb, rwdb *sql.DB) *CacheSQLiteStore {
	return &CacheSQLiteStore{rdb, rwdb}
}

func (store *CacheSQLiteStore) ReadCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	ce := new(CacheEntry)
	query := `select * from cache_entries where cache_key = $1`
	if err := sqlscan.Get(ctx, store.rdb, ce, query, key); err != nil {
		return nil, err
	}
	return ce, nil
}

// UpsertCacheEntry records a snapshot under key. Storing again under the
// same key replaces the previous entry.
func (store *CacheSQLiteStore) UpsertCacheEntry(
	ctx context.Context,
	key string,
	size int64,
	now time.Time,
) error {
	query := `insert into cache_entries (cache_key, size_bytes, created_on, last_used_on)
	values ($1, $2, $3, $3)
	on conflict (cache_key) do update set
		size_bytes = excluded.size_bytes,
		created_on = excluded.created_on,
		last_used_on = excluded.last_used_on`
	_, err := store.rwdb.ExecContext(ctx, query, key, size, now)
	return err
}

func (store *CacheSQLiteStore) TouchCacheEntry(ctx context.Context, key string, now time.Time) error {
	query := `update cache_entries set last_used_on = $1 where cache_key = $2`
	_, err := store.rwdb.ExecContext(ctx, query, now, key)
	return err
}

func (store *CacheSQLiteStore) ListStaleCacheEntries(
	ctx context.Context,
	before time.Time,
) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	query := `select * from cache_entries where last_used_on < $1 order by last_used_on`
	err := sqlscan.Select(ctx, store.rdb, &entries, query, before)
	return entries, err
}

func (store *CacheSQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	query := `delete from cache_entries where cache_key = $1`
	_, err := store.rwdb.ExecContext(ctx, query, key)
	return err
}

// DeleteStaleCacheEntry deletes the entry for key only if it is still unused
// since before, reporting whether a row was removed.
func (store *CacheSQLiteStore) DeleteStaleCacheEntry(
	ctx context.Context,
	key string,
	before time.Time,
) (bool, error) {
	query := `delete from cache_entries where cache_key = $1 and last_used_on < $2`
	res, err := store.rwdb.ExecContext(ctx, query, key, before)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
