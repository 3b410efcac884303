package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_canvas/internal/catalog"
	"github.com/friendsincode/grimnir_canvas/internal/config"
	"github.com/friendsincode/grimnir_canvas/internal/coordinator"
	"github.com/friendsincode/grimnir_canvas/internal/db"
	"github.com/friendsincode/grimnir_canvas/internal/displays"
	"github.com/friendsincode/grimnir_canvas/internal/engine"
	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/logging"
	"github.com/friendsincode/grimnir_canvas/internal/metadata"
	"github.com/friendsincode/grimnir_canvas/internal/server"
	"github.com/friendsincode/grimnir_canvas/internal/telemetry"
	"github.com/friendsincode/grimnir_canvas/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "grimnircanvas",
	Short: "Grimnir Canvas - Animated video wallpaper engine",
	Long:  "Grimnir Canvas plays video wallpapers across displays with seamless crossfade transitions, playlist curation and a local control API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wallpaper playout service",
	Long:  "Start the playback coordinator, catalog scanner and local control API",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one catalog scan pass and exit",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Grimnir Canvas starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-canvas",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	bus := events.NewBus()

	cache := library.NewCache(library.CacheConfig{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, logger)
	defer cache.Close()

	store := library.NewStore(database, bus, cache, logger)
	registry := displays.NewRegistry(database, logger)
	prober := metadata.NewProber(store, cfg.ScanWorkers, metadata.FFProbe("ffprobe"), logger)

	var scanner *catalog.Scanner
	if len(cfg.MediaDirs) > 0 {
		scanner = catalog.NewScanner(store, prober, cfg.MediaDirs, cfg.ScanInterval, logger)
	} else {
		logger.Warn().Msg("no media folders configured, discovery disabled")
	}

	players := func(screenID string) (engine.Player, engine.Player) {
		return engine.NewGstPlayer(cfg.GStreamerBin, cfg.ScalingMode, logger),
			engine.NewGstPlayer(cfg.GStreamerBin, cfg.ScalingMode, logger)
	}
	opts := engine.Options{
		Rate:               cfg.PlaybackRate,
		TransitionDuration: cfg.TransitionDuration,
		Muted:              cfg.Muted,
	}
	coord := coordinator.New(store, registry, bus, players, cfg.SyncMode, opts, logger)
	defer coord.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coord.Run(ctx)
	if scanner != nil {
		go scanner.Run(ctx)
	}

	apiAddr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	apiServer := server.New(apiAddr, store, registry, coord, scanner, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("control API server error")
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")
	cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := apiServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("control API shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	logger.Info().Msg("Grimnir Canvas stopped")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if len(cfg.MediaDirs) == 0 {
		return fmt.Errorf("no media folders configured, set CANVAS_MEDIA_DIRS")
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := library.NewStore(database, events.NewBus(), nil, logger)
	prober := metadata.NewProber(store, cfg.ScanWorkers, metadata.FFProbe("ffprobe"), logger)
	scanner := catalog.NewScanner(store, prober, cfg.MediaDirs, cfg.ScanInterval, logger)

	return scanner.ScanOnce(cmd.Context())
}
