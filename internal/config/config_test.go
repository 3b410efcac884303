package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsToSQLite(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default backend, got %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN default to be set")
	}
}

func TestLoadParsesMediaDirs(t *testing.T) {
	t.Setenv("CANVAS_MEDIA_DIRS", "/srv/wallpapers, /home/me/loops ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.MediaDirs) != 2 {
		t.Fatalf("expected 2 media dirs, got %v", cfg.MediaDirs)
	}
	if cfg.MediaDirs[1] != "/home/me/loops" {
		t.Fatalf("unexpected second dir: %q", cfg.MediaDirs[1])
	}
}

func TestLoadRejectsUnknownSyncMode(t *testing.T) {
	t.Setenv("CANVAS_SYNC_MODE", "mirrored")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail for unknown sync mode")
	}
}

func TestLoadClampsPlaybackValues(t *testing.T) {
	t.Setenv("CANVAS_PLAYBACK_RATE", "9.0")
	t.Setenv("CANVAS_TRANSITION_SECONDS", "0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlaybackRate != MaxPlaybackRate {
		t.Fatalf("rate = %v, want clamp to %v", cfg.PlaybackRate, MaxPlaybackRate)
	}
	if cfg.TransitionDuration != MinTransitionDuration {
		t.Fatalf("transition = %v, want clamp to %v", cfg.TransitionDuration, MinTransitionDuration)
	}
}

func TestClampHelpers(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1, MinPlaybackRate},
		{1.0, 1.0},
		{3.5, MaxPlaybackRate},
	}
	for _, tt := range tests {
		if got := ClampRate(tt.in); got != tt.want {
			t.Errorf("ClampRate(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := ClampTransition(10 * time.Second); got != MaxTransitionDuration {
		t.Errorf("ClampTransition(10s) = %v, want %v", got, MaxTransitionDuration)
	}
}
