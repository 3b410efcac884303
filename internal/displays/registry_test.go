/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package displays

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_canvas/internal/models"
)

func testRegistry(t *testing.T) *Registry {
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
	if err := db.AutoMigrate(&models.DisplayBinding{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRegistry(db, zerolog.Nop())
}

func TestBindingIsCreatedLazily(t *testing.T) {
	reg := testRegistry(t)

	if _, err := reg.Get("DP-1"); !errors.Is(err, ErrBindingNotFound) {
		t.Fatalf("get before first reference: %v, want not found", err)
	}

	binding, err := reg.Binding("DP-1")
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	if binding.ScreenID != "DP-1" || binding.PlaylistID != nil || !binding.Loop {
		t.Fatalf("fresh binding = %+v, want unassigned looping default", binding)
	}

	again, err := reg.Binding("DP-1")
	if err != nil {
		t.Fatalf("binding second time: %v", err)
	}
	if again.ID != binding.ID {
		t.Fatal("second reference must reuse the persisted binding")
	}
}

func TestScreenKeyDisambiguatesUnnamedScreens(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  string
	}{
		{"HDMI-A-1", 0, "HDMI-A-1"},
		{"", 0, "unknown-0"},
		{"", 2, "unknown-2"},
	}
	for _, tt := range tests {
		if got := ScreenKey(tt.name, tt.index); got != tt.want {
			t.Errorf("ScreenKey(%q, %d) = %q, want %q", tt.name, tt.index, got, tt.want)
		}
	}
}

func TestAssignAndRevertToLegacyMode(t *testing.T) {
	reg := testRegistry(t)

	playlistID := "11111111-1111-1111-1111-111111111111"
	binding, err := reg.Assign("DP-1", &playlistID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if binding.PlaylistID == nil || *binding.PlaylistID != playlistID {
		t.Fatalf("binding playlist = %v, want %s", binding.PlaylistID, playlistID)
	}

	binding, err = reg.Assign("DP-1", nil)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if binding.PlaylistID != nil {
		t.Fatal("reverted binding should have no playlist")
	}
}

func TestClearPlaylistDetachesAllBindings(t *testing.T) {
	reg := testRegistry(t)

	playlistID := "22222222-2222-2222-2222-222222222222"
	if _, err := reg.Assign("DP-1", &playlistID); err != nil {
		t.Fatalf("assign DP-1: %v", err)
	}
	if _, err := reg.Assign("HDMI-A-1", &playlistID); err != nil {
		t.Fatalf("assign HDMI-A-1: %v", err)
	}

	if err := reg.ClearPlaylist(playlistID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	bindings, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %d, want 2 (stale records persist)", len(bindings))
	}
	for _, b := range bindings {
		if b.PlaylistID != nil {
			t.Errorf("binding %s still references deleted playlist", b.ScreenID)
		}
	}
}

func TestLegacyOptionsPersist(t *testing.T) {
	reg := testRegistry(t)

	if _, err := reg.SetLegacyOptions("DP-2", true, false); err != nil {
		t.Fatalf("set options: %v", err)
	}
	binding, err := reg.Get("DP-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !binding.Shuffle || binding.Loop {
		t.Fatalf("binding = %+v, want shuffle on, loop off", binding)
	}
}
