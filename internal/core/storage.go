package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	blobcore "chartcore/internal/blob/core"
	"chartcore/internal/compute"
	"chartcore/internal/config"
	"chartcore/internal/dataset"
	"chartcore/internal/edits"
	blobfs "chartcore/internal/infra/blob/fs"
	blobmemory "chartcore/internal/infra/blob/memory"
	blobs3 "chartcore/internal/infra/blob/s3"
	"chartcore/internal/infra/persistence/badger"
	"chartcore/internal/infra/persistence/memory"
	"chartcore/internal/infra/persistence/postgres"
	"chartcore/internal/infra/persistence/sqlite"
	"chartcore/internal/render"
	"chartcore/pkg/chart"
)

// ChartStore is a chart.Store that may hold external resources.
type ChartStore interface {
	chart.Store
	io.Closer
}

type nopCloser struct{ chart.Store }

func (nopCloser) Close() error { return nil }

// OpenChartStore selects a chart-list backend from cfg.
func OpenChartStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (ChartStore, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return nopCloser{memory.NewStore()}, nil
	case config.StorageSQLite, "":
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageBadger:
		s, err := badger.Open(badger.Config{Dir: cfg.BadgerDir, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenBlobStore selects the render archive backend. BlobNone yields nil.
func OpenBlobStore(ctx context.Context, cfg config.BlobConfig) (blobcore.Store, error) {
	switch cfg.Driver {
	case config.BlobNone, "":
		return nil, nil
	case config.BlobMemory:
		return blobmemory.New(), nil
	case config.BlobFS:
		s, err := blobfs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BlobS3:
		s, err := blobs3.New(ctx, blobs3.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// App bundles a fully wired service for binaries.
type App struct {
	Service      *Service
	Orchestrator *render.Orchestrator
	Store        ChartStore
	Archive      *render.Archive
	Logger       *slog.Logger
}

// AppOptions carries the collaborators that do not come from configuration.
type AppOptions struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Dataset    dataset.Provider
	// Compute overrides the HTTP client built from the compute endpoint.
	Compute compute.Client
}

// ErrNoComputeEndpoint is returned when neither an endpoint nor a client is configured.
var ErrNoComputeEndpoint = errors.New("compute endpoint not configured")

// OpenApp wires stores, the compute client, the render orchestrator and the
// service from cfg.
func OpenApp(ctx context.Context, cfg config.Config, opts AppOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = config.NewLogger(cfg.Log, nil)
	}
	store, err := OpenChartStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open chart store: %w", err)
	}
	blobs, err := OpenBlobStore(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	client := opts.Compute
	if client == nil {
		if cfg.Compute.Endpoint == "" {
			client = compute.Func(func(context.Context, compute.Request) (compute.Response, error) {
				return compute.Response{}, ErrNoComputeEndpoint
			})
		} else {
			client = compute.NewHTTPClient(cfg.Compute.Endpoint, cfg.Compute.Timeout)
		}
	}
	var dataRef func(string) string
	if opts.Dataset != nil {
		ref := opts.Dataset.Ref()
		dataRef = func(string) string { return ref }
	}
	archive := render.NewArchive(blobs)
	orch := render.New(store, client, render.Options{
		MinInterval: renderInterval(cfg.Render),
		Concurrency: cfg.Render.Concurrency,
		DataRef:     dataRef,
		Logger:      logger,
		Notifier:    render.LogNotifier{Logger: logger},
		Archive:     archive,
		Registerer:  opts.Registerer,
	})
	svc := NewService(store, Options{
		Logger:   logger,
		Metrics:  NewPrometheusRecorder(opts.Registerer),
		Dataset:  opts.Dataset,
		Renderer: orch,
		Edits:    edits.Options{Delay: cfg.Edits.Debounce, Logger: logger},
	})
	return &App{Service: svc, Orchestrator: orch, Store: store, Archive: archive, Logger: logger}, nil
}

// renderInterval maps the render config onto render.Options.MinInterval,
// where zero means the default and a negative value disables spacing.
func renderInterval(cfg config.RenderConfig) time.Duration {
	if cfg.DisableSpacing {
		return -1
	}
	return cfg.MinInterval
}

// Close stops pending edits and releases the store.
func (a *App) Close() error {
	a.Service.Close()
	return a.Store.Close()
}
