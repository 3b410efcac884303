/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/library"
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

func TestFillPendingAppliesProbeResults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	mirror, err := store.MirrorPlaylist(ctx)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := store.Merge(ctx, mirror.ID, []string{"/w/a.mp4", "/w/b.mp4"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	probe := func(ctx context.Context, path string) (Result, error) {
		return Result{Duration: 42 * time.Second, Width: 1920, Height: 1080}, nil
	}
	prober := NewProber(store, 2, probe, zerolog.Nop())

	if err := prober.FillPending(ctx); err != nil {
		t.Fatalf("fill pending: %v", err)
	}

	items, err := store.ActiveList(ctx, mirror.ID)
	if err != nil {
		t.Fatalf("active list: %v", err)
	}
	for _, item := range items {
		if !item.HasMetadata() {
			t.Errorf("item %s still pending", item.LookupKey)
		}
		if item.Duration != 42*time.Second || item.Width != 1920 {
			t.Errorf("item %s metadata = %v %dx%d", item.LookupKey, item.Duration, item.Width, item.Height)
		}
	}

	pending, err := store.ItemsMissingMetadata(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after fill = %d, want 0", len(pending))
	}
}

func TestProbeFailureLeavesItemPending(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	mirror, err := store.MirrorPlaylist(ctx)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := store.Merge(ctx, mirror.ID, []string{"/w/broken.mp4"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	probe := func(ctx context.Context, path string) (Result, error) {
		return Result{}, errors.New("unreadable container")
	}
	prober := NewProber(store, 1, probe, zerolog.Nop())

	if err := prober.FillPending(ctx); err != nil {
		t.Fatalf("fill pending: %v", err)
	}

	pending, err := store.ItemsMissingMetadata(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want the failed item to stay pending", len(pending))
	}
}

func TestDuplicateLookupKeysProbeOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	mirror, err := store.MirrorPlaylist(ctx)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := store.Merge(ctx, mirror.ID, []string{"/w/a.mp4"}); err != nil {
		t.Fatalf("merge mirror: %v", err)
	}
	custom, err := store.CreatePlaylist(ctx, "Evenings")
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	if err := store.Merge(ctx, custom.ID, []string{"/w/a.mp4"}); err != nil {
		t.Fatalf("merge custom: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	gate := make(chan struct{})
	probe := func(ctx context.Context, path string) (Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-gate
		return Result{Duration: time.Minute, Width: 1280, Height: 720}, nil
	}
	prober := NewProber(store, 2, probe, zerolog.Nop())

	pending, err := store.ItemsMissingMetadata(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want one item per playlist", len(pending))
	}

	done := make(chan struct{}, 2)
	for _, item := range pending {
		item := item
		go func() {
			defer func() { done <- struct{}{} }()
			prober.probeItem(ctx, item)
		}()
	}

	// Both probes are in flight against the same key before the gate opens.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("probe calls = %d, want 1 shared probe per lookup key", calls)
	}
}
