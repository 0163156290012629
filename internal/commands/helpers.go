// Package commands implements the CLI subcommands for the verifyci binary.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/haatos/verify-ci/internal"
	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/settings"
	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"github.com/haatos/verify-ci/internal/util"
)

// Process exit codes of the run command.
const (
	ExitPassed    = 0
	ExitFailed    = 1
	ExitInternal  = 2
	ExitCancelled = 3
)

// ExitError carries the process exit code a command finished with.
type ExitError struct {
	Code int
	Err  error
}

func (ee *ExitError) Error() string {
	return ee.Err.Error()
}

func (ee *ExitError) Unwrap() error {
	return ee.Err
}

// ExitCode maps a command error to the process exit code. Errors that are
// not an *ExitError are internal errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitPassed
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitInternal
}

// bootstrap loads .env, settings and config.json and opens the databases
// with migrations applied.
func bootstrap() (rdb, rwdb *sql.DB) {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	internal.InitializeConfiguration()

	rdb = store.InitDatabase(true)
	rwdb = store.InitDatabase(false)
	store.RunMigrations(rwdb, settings.Settings.MigrationDialect())
	return rdb, rwdb
}

type engine struct {
	pipelines *service.PipelineService
	apiKeys   *service.APIKeyService
	cache     *service.CacheService
	resolver  service.RevisionResolver
	pipeline  *types.Pipeline
	close     func()
}

// newEngine wires the run engine. Stage output is streamed to live, run
// summaries go to reporter.
func newEngine(ctx context.Context, live io.Writer, reporter service.Reporter) (*engine, error) {
	rdb, rwdb := bootstrap()
	closeDBs := func() {
		rdb.Close()
		rwdb.Close()
	}

	pipeline, err := loadPipeline(settings.Settings.PipelinePath)
	if err != nil {
		closeDBs()
		return nil, err
	}
	if settings.Settings.Repository != "" {
		pipeline.Repository = settings.Settings.Repository
	}
	if pipeline.Repository == "" {
		closeDBs()
		return nil, errors.New("no repository configured, set VERIFYCI_REPOSITORY or repository in the pipeline file")
	}

	blobs, err := newBlobStore(ctx, settings.Settings)
	if err != nil {
		closeDBs()
		return nil, err
	}
	materializer, err := newMaterializer(settings.Settings)
	if err != nil {
		closeDBs()
		return nil, err
	}

	runStore := store.NewRunSQLiteStore(rdb, rwdb)
	uuidGen := service.NewUUIDGen()
	cacheSvc := service.NewCacheService(store.NewCacheSQLiteStore(rdb, rwdb), blobs)
	pipelineSvc := service.NewPipelineService(
		runStore,
		service.NewTriggerEvaluator(service.TriggerPolicy{
			ProtectedBranches:  internal.Config.ProtectedBranches,
			PullRequestActions: internal.Config.PullRequestActions,
		}, uuidGen),
		service.NewRunCanceller(runStore),
		service.NewProvisioner(materializer, cacheSvc, pipeline.Repository, pipeline.Cache.Manifests),
		service.NewStageRunner(live),
		cacheSvc,
		service.PipelineServiceOptions{
			Pipeline:           pipeline,
			MaxConcurrentRuns:  internal.Config.MaxConcurrentRuns,
			CancelPollInterval: time.Duration(internal.Config.CancelPollSeconds),
			Reporter:           reporter,
		},
	)

	return &engine{
		pipelines: pipelineSvc,
		apiKeys: service.NewAPIKeyService(
			store.NewAPIKeySQLiteStore(rdb, rwdb), uuidGen,
		),
		cache:    cacheSvc,
		resolver: service.NewLocalMaterializer(settings.Settings.WorkspaceRoot),
		pipeline: pipeline,
		close:    closeDBs,
	}, nil
}

// loadPipeline reads the pipeline file at path, falling back to the default
// pipeline when the file does not exist.
func loadPipeline(path string) (*types.Pipeline, error) {
	exists, err := util.PathExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Printf("pipeline file %s not found, using the default pipeline\n", path)
		return types.DefaultPipeline(), nil
	}
	return types.LoadPipeline(path)
}

func newBlobStore(ctx context.Context, s *settings.AppSettings) (store.BlobStore, error) {
	switch s.CacheBackend {
	case settings.CacheBackendFS:
		return store.NewFileBlobStore(s.CacheDir), nil
	case settings.CacheBackendMinIO:
		return store.NewMinioBlobStore(ctx, s)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", s.CacheBackend)
	}
}

func newMaterializer(s *settings.AppSettings) (service.Materializer, error) {
	if !s.UsesAgent() {
		return service.NewLocalMaterializer(s.WorkspaceRoot), nil
	}
	privateKey, err := os.ReadFile(s.AgentKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading agent key: %w", err)
	}
	return service.NewSSHMaterializer(s.AgentHost, s.AgentUser, privateKey, s.AgentWorkspace), nil
}
