package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/buffer"
	"github.com/trailog/recorder/internal/config"
	"github.com/trailog/recorder/internal/connectivity"
	"github.com/trailog/recorder/internal/database"
	"github.com/trailog/recorder/internal/kv"
	"github.com/trailog/recorder/internal/location"
	"github.com/trailog/recorder/internal/logging"
	"github.com/trailog/recorder/internal/notify"
	intOtel "github.com/trailog/recorder/internal/otel"
	"github.com/trailog/recorder/internal/queue"
	"github.com/trailog/recorder/internal/reconcile"
	"github.com/trailog/recorder/internal/recorder"
	"github.com/trailog/recorder/internal/snapshot"

	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

const closeTimeout = 5 * time.Second

// app holds every long-lived service of one CLI invocation.
type app struct {
	out     io.Writer
	started time.Time

	slogManager *logging.SlogManager
	logger      *slog.Logger
	otel        *intOtel.Provider
	closers     []io.Closer

	db         *gorm.DB
	general    kv.Store
	auth       *auth.Store
	queue      *queue.SQLite
	buffer     *buffer.Buffer
	client     *api.Client
	prober     *connectivity.Prober
	reconciler *reconcile.Reconciler
	watcher    *reconcile.Watcher
	notifier   notify.Notifier

	rec      atomic.Pointer[recorder.Recorder]
	commands metric.Int64Counter
}

func newApp(ctx context.Context, configDir string, out io.Writer) (*app, error) {
	a := &app{out: out, started: time.Now()}

	cfgErr := config.Load(configDir)

	if err := a.setupLogging(ctx); err != nil {
		return nil, err
	}
	if cfgErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		a.logger.Info("Loaded config", "dir", configDir)
	}

	if err := a.setupStorage(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.setupSync(); err != nil {
		a.close()
		return nil, err
	}

	commands, err := a.otel.Meter("github.com/trailog/recorder/cmd/trail_recorder").Int64Counter("cli.commands")
	if err != nil {
		a.logger.Warn("Failed to create command counter", "error", err)
	}
	a.commands = commands

	return a, nil
}

func (a *app) setupLogging(ctx context.Context) error {
	logCfg := config.GetLogConfig()
	if err := os.MkdirAll(logCfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	rotation := logging.RotationConfig{
		MaxSizeMB:  logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAgeDays: logCfg.MaxAgeDays,
		Compress:   logCfg.Compress,
	}

	logFile := logging.NewRotatingFile(logging.LogFilePath(logCfg.Dir, AppName, a.started), rotation)
	a.closers = append(a.closers, logFile)

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled && otelCfg.Endpoint == "" {
		otelFile := logging.NewRotatingFile(logging.LogFilePath(logCfg.Dir, AppName+".otel", a.started), rotation)
		a.closers = append(a.closers, otelFile)
		otelWriter = otelFile
	}

	provider, err := intOtel.New(ctx, intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up OpenTelemetry: %w", err)
	}
	a.otel = provider

	a.slogManager = logging.NewSlogManager()

	var graylogErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGraylogWriter(gl.Address)
		if err != nil {
			graylogErr = err
		} else {
			a.slogManager.SetGraylog(w)
		}
	}

	a.slogManager.SetContextProvider(a.logContext)
	a.slogManager.Setup(logFile, logCfg.Level, provider.LoggerProvider())
	a.logger = a.slogManager.Logger()

	if graylogErr != nil {
		a.logger.Warn("Graylog unavailable, continuing without it", "error", graylogErr)
	}
	return nil
}

func (a *app) setupStorage() error {
	storageCfg := config.GetStorageConfig()

	db, err := database.OpenSQLite(storageCfg.SQLitePath)
	if err != nil {
		return err
	}
	a.db = db
	a.logger.Info("Opened local database", "path", storageCfg.SQLitePath)

	a.general, err = kv.New(storageCfg, db)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	a.auth = auth.NewStore(kv.NewCredentialStore(storageCfg, a.general, a.logger), "")

	a.queue, err = queue.NewSQLite(db, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open hike queue: %w", err)
	}

	a.buffer = buffer.New(a.general, config.GetRecorderConfig().BufferKey)
	return nil
}

func (a *app) setupSync() error {
	apiCfg := config.GetAPIConfig()
	syncCfg := config.GetSyncConfig()

	a.client = api.New(apiCfg.ServerURL, api.WithTimeout(apiCfg.Timeout))
	a.notifier = notify.Multi{notify.NewWriter(a.out), notify.NewSlog(a.logger)}

	var err error
	a.prober, err = connectivity.NewProber(apiCfg.ServerURL, a.client, syncCfg.ProbeInterval, syncCfg.ProbeTimeout, a.logger)
	if err != nil {
		return fmt.Errorf("failed to set up connectivity probe: %w", err)
	}

	a.reconciler, err = reconcile.New(a.queue, a.client, a.prober, syncCfg.BatchSize, a.logger)
	if err != nil {
		return fmt.Errorf("failed to set up reconciler: %w", err)
	}
	a.watcher = reconcile.NewWatcher(a.reconciler, a.auth, a.prober, reconcile.WatcherConfig{
		OnSynced:       a.onSynced,
		OnUnauthorized: a.signOut,
		Logger:         a.logger,
	})
	a.auth.OnChange(a.watcher.TokenChanged)
	return nil
}

// newRecorder builds a recorder fed by source and makes it the app's current one.
func (a *app) newRecorder(source location.Source) (*recorder.Recorder, error) {
	recCfg := config.GetRecorderConfig()
	rec, err := recorder.New(recorder.Config{
		Filter:          config.GetFilterConfig(),
		TickInterval:    recCfg.TickInterval,
		FirstFixTimeout: recCfg.FirstFixTimeout,
		Snapshot: snapshot.Config{
			Key:      recCfg.SnapshotKey,
			Debounce: recCfg.SnapshotDebounce,
			MaxWait:  recCfg.SnapshotMaxWait,
		},
	}, recorder.Dependencies{
		Source:         source,
		Buffer:         a.buffer,
		SnapshotStore:  a.general,
		Queue:          a.queue,
		Remote:         a.client,
		Connectivity:   a.prober,
		Credentials:    a.auth,
		Notifier:       a.notifier,
		Logger:         a.logger,
		OnUnauthorized: a.signOut,
	})
	if err != nil {
		return nil, err
	}
	a.rec.Store(rec)
	return rec, nil
}

func (a *app) onSynced(ctx context.Context, n int) {
	if rec := a.rec.Load(); rec != nil {
		rec.ForceIdle(ctx)
	}
	a.notifier.Success(notify.SyncedMessage(n))
}

func (a *app) signOut(ctx context.Context) {
	if err := a.auth.Clear(ctx); err != nil {
		a.logger.Error("Failed to clear credential", "error", err)
	}
	a.notifier.Error("Session expired, please log in again")
}

func (a *app) logContext() []slog.Attr {
	rec := a.rec.Load()
	if rec == nil {
		return nil
	}
	return []slog.Attr{slog.String("recorder", string(rec.Status()))}
}

func (a *app) countCommand(ctx context.Context, name string) {
	if a.commands != nil {
		a.commands.Add(ctx, 1, metric.WithAttributes(commandAttr(name)))
	}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.prober != nil {
		a.prober.Stop()
	}
	if rec := a.rec.Load(); rec != nil {
		rec.Shutdown()
	}

	if a.slogManager != nil {
		if err := a.slogManager.Flush(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to shut down OpenTelemetry:", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}
