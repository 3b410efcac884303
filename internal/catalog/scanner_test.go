/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/metadata"
	"github.com/friendsincode/grimnir_canvas/internal/models"
)

func testStore(t *testing.T) *library.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// One connection keeps the in-memory database alive across the pool.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&models.Playlist{}, &models.MediaItem{}, &models.MetadataEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return library.NewStore(db, events.NewBus(), nil, zerolog.Nop())
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDiscoverFindsOnlyVideoFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "ocean.mp4"))
	touch(t, filepath.Join(dir, "nested", "rain.webm"))
	touch(t, filepath.Join(dir, "FOREST.MKV"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "cover.jpg"))

	scanner := NewScanner(testStore(t), nil, []string{dir}, time.Minute, zerolog.Nop())
	keys := scanner.Discover()

	if len(keys) != 3 {
		t.Fatalf("discovered %d files, want 3 videos: %v", len(keys), keys)
	}
	found := make(map[string]bool, len(keys))
	for _, key := range keys {
		found[filepath.Base(key)] = true
	}
	for _, want := range []string{"ocean.mp4", "rain.webm", "FOREST.MKV"} {
		if !found[want] {
			t.Errorf("missing %s in %v", want, keys)
		}
	}
}

func TestScanOnceMergesIntoMirrorAndFillsMetadata(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))
	touch(t, filepath.Join(dir, "b.mp4"))

	store := testStore(t)
	probe := func(ctx context.Context, path string) (metadata.Result, error) {
		return metadata.Result{Duration: 30 * time.Second, Width: 3840, Height: 2160}, nil
	}
	prober := metadata.NewProber(store, 1, probe, zerolog.Nop())
	scanner := NewScanner(store, prober, []string{dir}, time.Minute, zerolog.Nop())

	ctx := context.Background()
	if err := scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	mirror, err := store.MirrorPlaylist(ctx)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	items, err := store.ActiveList(ctx, mirror.ID)
	if err != nil {
		t.Fatalf("active list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("mirror items = %d, want 2", len(items))
	}
	for _, item := range items {
		if !item.HasMetadata() {
			t.Errorf("item %s missing metadata after scan", item.LookupKey)
		}
	}
}

func TestUnreadableSourceFolderKeepsExistingItems(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))

	store := testStore(t)
	scanner := NewScanner(store, nil, []string{dir}, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if err := scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// The folder disappears, e.g. an unmounted drive. The empty discovery
	// must not wipe the persisted playlist.
	broken := NewScanner(store, nil, []string{filepath.Join(dir, "gone")}, time.Minute, zerolog.Nop())
	if err := broken.ScanOnce(ctx); err != nil {
		t.Fatalf("scan with missing folder: %v", err)
	}

	mirror, err := store.MirrorPlaylist(ctx)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	items, err := store.ActiveList(ctx, mirror.ID)
	if err != nil {
		t.Fatalf("active list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items after failed scan = %d, want 1 preserved", len(items))
	}
}
