// Package app builds the components shared by the api service and guardctl
// from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/intelliguard/internal/api/handlers"
	"github.com/your-org/intelliguard/internal/api/ws"
	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/config"
	"github.com/your-org/intelliguard/internal/custody"
	"github.com/your-org/intelliguard/internal/queue"
	"github.com/your-org/intelliguard/internal/recognition"
	"github.com/your-org/intelliguard/internal/storage"
	"github.com/your-org/intelliguard/internal/vision/cascade"
)

// ledgerStore is what the app needs from any ledger backend.
type ledgerStore interface {
	custody.Store
	Ping(ctx context.Context) error
}

type App struct {
	Config      *config.Config
	// Recognition is nil for apps built with BuildLedger.
	Recognition *recognition.Service
	Ledger      *custody.Ledger
	Hub         *ws.Hub
	// Producer is nil when no event bus is configured.
	Producer *queue.Producer
	// Checks are the readiness checks of the configured dependencies.
	Checks map[string]handlers.Check

	closers []func()
}

// Build connects every configured dependency. On error everything opened so
// far is closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return build(ctx, cfg, true)
}

// BuildLedger is Build without the face pipeline, for tools that only touch
// the custody ledger and have no cascade file at hand.
func BuildLedger(ctx context.Context, cfg *config.Config) (*App, error) {
	return build(ctx, cfg, false)
}

func build(ctx context.Context, cfg *config.Config, withRecognition bool) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Hub:    ws.NewHub(),
		Checks: map[string]handlers.Check{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	samples, photos, err := a.openObjectStores(ctx)
	if err != nil {
		return nil, err
	}

	store, err := a.openLedgerStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Checks["database"] = store.Ping

	var events custody.EventPublisher = a.Hub
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.onClose(producer.Close)
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		a.Producer = producer
		a.Checks["nats"] = func(context.Context) error { return producer.Ping() }
		events = producer
	}

	policy, err := custody.ParsePolicy(cfg.Ledger.OpenRecordPolicy)
	if err != nil {
		return nil, err
	}
	a.Ledger = custody.NewLedger(store, custody.Options{
		Policy: policy,
		Photos: photos,
		Events: events,
	})

	if withRecognition {
		detector, err := cascade.New(cfg.Vision.CascadePath)
		if err != nil {
			return nil, fmt.Errorf("load face detector: %w", err)
		}
		a.onClose(func() { _ = detector.Close() })

		a.Recognition = recognition.NewService(detector, samples, events, recognition.Config{
			ModelPath:       cfg.Vision.ModelPath,
			ConfidenceFloor: cfg.Vision.ConfidenceFloor,
			MaxSamples:      cfg.Vision.MaxSamples,
		})
		if err := a.Recognition.Bootstrap(ctx); err != nil {
			return nil, err
		}
	}

	slog.Info("application ready",
		"db_driver", cfg.Database.Driver,
		"object_store", map[bool]string{true: "minio", false: "local"}[cfg.MinIO.Endpoint != ""],
		"events", cfg.NATS.URL != "",
		"recognition", withRecognition,
		"policy", policy)
	return a, nil
}

func (a *App) openObjectStores(ctx context.Context) (recognition.SampleStore, custody.PhotoStore, error) {
	cfg := a.Config
	if cfg.MinIO.Endpoint != "" {
		m, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to minio: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		a.Checks["minio"] = m.Ping
		return m.Samples(), m, nil
	}

	samples, err := storage.NewDirSampleStore(cfg.Storage.DatasetDir)
	if err != nil {
		return nil, nil, err
	}
	photos, err := storage.NewDirPhotoStore(cfg.Storage.PhotosDir)
	if err != nil {
		return nil, nil, err
	}
	return samples, photos, nil
}

func (a *App) openLedgerStore(ctx context.Context) (ledgerStore, error) {
	cfg := a.Config.Database
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := storage.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.onClose(pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil

	case config.DriverSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { closeDB(db) })
		writer := storage.NewWriter(db)
		a.onClose(writer.Close)
		return storage.NewSQLiteLedgerStore(db, writer), nil

	case config.DriverMemory:
		slog.Warn("custody ledger is in memory, records are lost on restart")
		return storage.NewMemoryLedgerStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Camera opens the configured capture device. It is used for camera
// enrollment and the kiosk identify loop.
func (a *App) Camera(ctx context.Context) (capture.Source, error) {
	c := a.Config.Capture
	src, err := capture.StartFFmpeg(ctx, capture.FFmpegConfig{
		Source:      c.Source,
		InputFormat: c.InputFormat,
		FPS:         c.FPS,
		Width:       c.Width,
	})
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", c.Source, err)
	}
	return src, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Warn("close sqlite", "error", err)
	}
}
