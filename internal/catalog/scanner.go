/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog discovers wallpaper videos on disk and feeds them into
// the mirror playlist.
package catalog

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/metadata"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
}

// Scanner walks the configured media folders and reconciles what it finds
// into the mirror playlist. A folder that cannot be read contributes
// nothing; if every folder fails the resulting empty discovery is rejected
// by the merge, so a missing mount never wipes curation.
type Scanner struct {
	store    *library.Store
	prober   *metadata.Prober
	dirs     []string
	interval time.Duration
	logger   zerolog.Logger
}

// NewScanner creates a scanner over the given source folders.
func NewScanner(store *library.Store, prober *metadata.Prober, dirs []string, interval time.Duration, logger zerolog.Logger) *Scanner {
	return &Scanner{
		store:    store,
		prober:   prober,
		dirs:     dirs,
		interval: interval,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// Discover walks every source folder and returns the lookup keys of the
// video files found, cleaned and deduplicated.
func (s *Scanner) Discover() []string {
	seen := make(map[string]bool)
	var keys []string

	for _, dir := range s.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			key := filepath.Clean(path)
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("source folder walk failed")
		}
	}

	return keys
}

// ScanOnce runs one discovery pass: walk, merge into the mirror playlist,
// then fill metadata for anything new.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	started := time.Now()
	keys := s.Discover()

	mirror, err := s.store.MirrorPlaylist(ctx)
	if err != nil {
		return err
	}
	if err := s.store.Merge(ctx, mirror.ID, keys); err != nil {
		return err
	}

	s.logger.Info().
		Int("discovered", len(keys)).
		Dur("took", time.Since(started)).
		Msg("scan pass complete")

	if s.prober != nil {
		return s.prober.FillPending(ctx)
	}
	return nil
}

// Run scans immediately and then on every interval tick until ctx is
// cancelled.
func (s *Scanner) Run(ctx context.Context) {
	if err := s.ScanOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial scan failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scan pass failed")
			}
		}
	}
}
