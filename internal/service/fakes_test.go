package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var errExit = errors.New("exit status 1")

// execHook decides what a stage command does inside a fake workspace.
type execHook func(ctx context.Context, revision, command string, out io.Writer) error

type fakeWorkspace struct {
	revision string
	files    map[string][]byte
	exec     execHook

	mu       sync.Mutex
	restored []byte
	closed   bool
}

func (fw *fakeWorkspace) Dir() string {
	return "/fake/" + fw.revision
}

func (fw *fakeWorkspace) Exec(ctx context.Context, command string, out io.Writer) error {
	if fw.exec == nil {
		return nil
	}
	return fw.exec(ctx, fw.revision, command, out)
}

func (fw *fakeWorkspace) ReadFile(ctx context.Context, name string) ([]byte, error) {
	b, ok := fw.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return b, nil
}

func (fw *fakeWorkspace) RestoreCache(ctx context.Context, archive []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.restored = archive
	return nil
}

func (fw *fakeWorkspace) SnapshotCache(ctx context.Context, paths []string) ([]byte, error) {
	return []byte("snapshot of " + fw.revision), nil
}

func (fw *fakeWorkspace) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.closed = true
	return nil
}

type fakeMaterializer struct {
	err   error
	files map[string][]byte
	exec  execHook

	mu         sync.Mutex
	workspaces []*fakeWorkspace
}

func (fm *fakeMaterializer) Materialize(
	ctx context.Context,
	repository, revision string,
) (Workspace, error) {
	if fm.err != nil {
		return nil, fm.err
	}
	ws := &fakeWorkspace{revision: revision, files: fm.files, exec: fm.exec}
	fm.mu.Lock()
	fm.workspaces = append(fm.workspaces, ws)
	fm.mu.Unlock()
	return ws, nil
}

type fakeCache struct {
	fetchErr error

	mu      sync.Mutex
	entries map[string][]byte
	stores  map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte), stores: make(map[string]int)}
}

func (fc *fakeCache) Fetch(ctx context.Context, key string) (*store.CacheEntry, bool, error) {
	if fc.fetchErr != nil {
		return nil, false, &CacheError{Op: "get", Key: key, Err: fc.fetchErr}
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	b, ok := fc.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &store.CacheEntry{CacheKey: key, Blob: b}, true, nil
}

func (fc *fakeCache) Store(ctx context.Context, key string, blob []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries[key] = blob
	fc.stores[key]++
	return nil
}

func (fc *fakeCache) storeCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, c := range fc.stores {
		n += c
	}
	return n
}

type recordingReporter struct {
	mu   sync.Mutex
	runs []*store.Run
}

func (rr *recordingReporter) Report(r *store.Run) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.runs = append(rr.runs, r)
}

func (rr *recordingReporter) reported() []*store.Run {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]*store.Run(nil), rr.runs...)
}

type staticUUIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *staticUUIDGen) GenerateUUID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("uuid-%d", g.n)
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)
	store.RunMigrations(db, "sqlite")
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRunStore(t *testing.T) *store.RunSQLiteStore {
	db := newTestDB(t)
	return store.NewRunSQLiteStore(db, db)
}

// blockUntilDone blocks until ctx is done, like a process killed by its
// context.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func testStages() []types.Stage {
	return []types.Stage{
		{Name: "format", Command: "fmt"},
		{Name: "lint", Command: "lint"},
		{Name: "audit", Command: "audit"},
		{Name: "test", Command: "test"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

func newTestHandle(t *testing.T) *RunHandle {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &RunHandle{RunID: 1, Group: "branch:main", ctx: ctx, cancel: cancel}
}
