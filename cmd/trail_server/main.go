package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trailog/recorder/internal/config"
	"github.com/trailog/recorder/internal/database"
	"github.com/trailog/recorder/internal/feed"
	"github.com/trailog/recorder/internal/influx"
	"github.com/trailog/recorder/internal/logging"
	"github.com/trailog/recorder/internal/server"
	"github.com/trailog/recorder/internal/trailstore"
)

const AppName = "trail_server"

func main() {
	configDir := flag.String("config", ".", "directory holding trail_recorder.cfg.json and .env")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	cfgErr := config.Load(configDir)

	logCfg := config.GetLogConfig()
	if err := os.MkdirAll(logCfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	logFile := logging.NewRotatingFile(logging.LogFilePath(logCfg.Dir, AppName, time.Now()), logging.RotationConfig{
		MaxSizeMB:  logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAgeDays: logCfg.MaxAgeDays,
		Compress:   logCfg.Compress,
	})
	defer logFile.Close()

	zlog := logging.NewZerolog(logCfg.Level, os.Stdout, logFile)
	if cfgErr != nil {
		zlog.Warn().Err(cfgErr).Msg("Failed to load config, using defaults!")
	}

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, logCfg.Level, nil)

	srvCfg := config.GetServerConfig()
	if srvCfg.JWTSecret == "dev-secret-change-me" {
		zlog.Warn().Msg("Using the default JWT secret, set server.jwtSecret")
	}

	dbm := database.NewManager(srvCfg, zlog)
	if err := dbm.Connect(); err != nil {
		return err
	}
	defer dbm.Close()

	store, err := trailstore.New(dbm.DB, zlog)
	if err != nil {
		return err
	}

	if logCfg.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := []server.Option{
		server.WithPrefix("/api"),
		server.WithHealth(func(ctx context.Context) error {
			return dbm.SqlDB.PingContext(ctx)
		}),
		server.WithFeed(feed.NewHub(slogManager.Logger())),
	}

	if ic := config.GetInfluxConfig(); ic.Enabled {
		stats := influx.NewManager(influx.Config{
			URL:        ic.URL,
			Token:      ic.Token,
			Org:        ic.Org,
			Bucket:     ic.Bucket,
			BackupPath: ic.BackupPath,
		}, zlog)
		if err := stats.Connect(ctx); err != nil {
			zlog.Error().Err(err).Msg("Hike stats export disabled")
		} else {
			defer stats.Close()
			opts = append(opts, server.WithOnSaved(stats.WriteHike))
		}
	}

	srv := server.New(store, srvCfg.JWTSecret, slogManager.Logger(), opts...)

	zlog.Info().Str("listen", srvCfg.Listen).Bool("sqlite", dbm.ShouldSaveLocal).Msg("Trail server starting")
	return srv.Run(ctx, srvCfg.Listen)
}
