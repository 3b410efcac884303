/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// SyncMode selects engine ownership across displays.
type SyncMode string

const (
	// SyncIndependent runs one playback engine per display.
	SyncIndependent SyncMode = "independent"
	// SyncShared runs a single engine shared by every display.
	SyncShared SyncMode = "shared"
)

// Playback clamps. Values outside these ranges are pulled back at load.
const (
	MinPlaybackRate = 0.5
	MaxPlaybackRate = 2.0

	MinTransitionDuration = 500 * time.Millisecond
	MaxTransitionDuration = 5 * time.Second

	// ProgressInterval is the fixed advisory sampling interval.
	ProgressInterval = 500 * time.Millisecond
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend DatabaseBackend
	DBDSN     string

	// MediaDirs are the wallpaper source folders, comma separated in env.
	MediaDirs    []string
	ScanInterval time.Duration
	ScanWorkers  int

	GStreamerBin string

	PlaybackRate       float64
	TransitionDuration time.Duration
	TransitionType     string
	ScalingMode        string
	Muted              bool

	SyncMode SyncMode

	// Optional redis cache for active lists and metadata. Empty addr
	// disables caching entirely.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults and clamps, and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("CANVAS_ENV", "development"),
		HTTPBind:    getEnv("CANVAS_HTTP_BIND", "127.0.0.1"),
		HTTPPort:    getEnvInt("CANVAS_HTTP_PORT", 8930),
		MetricsBind: getEnv("CANVAS_METRICS_BIND", "127.0.0.1:9930"),

		DBBackend: DatabaseBackend(getEnv("CANVAS_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("CANVAS_DB_DSN", "canvas.db"),

		MediaDirs:    splitList(getEnv("CANVAS_MEDIA_DIRS", "")),
		ScanInterval: time.Duration(getEnvInt("CANVAS_SCAN_INTERVAL_MINUTES", 10)) * time.Minute,
		ScanWorkers:  getEnvInt("CANVAS_SCAN_WORKERS", 4),

		GStreamerBin: getEnv("CANVAS_GSTREAMER_BIN", "gst-launch-1.0"),

		PlaybackRate:       getEnvFloat("CANVAS_PLAYBACK_RATE", 1.0),
		TransitionDuration: time.Duration(getEnvFloat("CANVAS_TRANSITION_SECONDS", 1.5) * float64(time.Second)),
		TransitionType:     getEnv("CANVAS_TRANSITION_TYPE", "crossfade"),
		ScalingMode:        getEnv("CANVAS_SCALING_MODE", "fill"),
		Muted:              getEnvBool("CANVAS_MUTED", true),

		SyncMode: SyncMode(getEnv("CANVAS_SYNC_MODE", string(SyncIndependent))),

		RedisAddr:     getEnv("CANVAS_REDIS_ADDR", ""),
		RedisPassword: getEnv("CANVAS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CANVAS_REDIS_DB", 0),

		TracingEnabled:    getEnvBool("CANVAS_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("CANVAS_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("CANVAS_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CANVAS_DB_DSN must be provided")
	}

	if cfg.SyncMode != SyncIndependent && cfg.SyncMode != SyncShared {
		return nil, fmt.Errorf("unsupported sync mode %q", cfg.SyncMode)
	}

	if cfg.ScanWorkers < 1 {
		cfg.ScanWorkers = 1
	}

	cfg.PlaybackRate = ClampRate(cfg.PlaybackRate)
	cfg.TransitionDuration = ClampTransition(cfg.TransitionDuration)

	return cfg, nil
}

// ClampRate pulls a playback rate into the supported range.
func ClampRate(rate float64) float64 {
	if rate < MinPlaybackRate {
		return MinPlaybackRate
	}
	if rate > MaxPlaybackRate {
		return MaxPlaybackRate
	}
	return rate
}

// ClampTransition pulls a transition duration into the supported range.
func ClampTransition(d time.Duration) time.Duration {
	if d < MinTransitionDuration {
		return MinTransitionDuration
	}
	if d > MaxTransitionDuration {
		return MaxTransitionDuration
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
