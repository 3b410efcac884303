/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata fills item duration and resolution asynchronously so
// discovery never blocks on decoding.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/models"
)

// Result carries the probed properties of one media file.
type Result struct {
	Duration time.Duration
	Width    int
	Height   int
}

// ProbeFunc inspects a media file. The default shells out to ffprobe.
type ProbeFunc func(ctx context.Context, path string) (Result, error)

// Prober runs metadata probes with bounded concurrency. Probes for the
// same lookup key are collapsed through singleflight, so an item that
// appears in several playlists is decoded once.
type Prober struct {
	store   *library.Store
	probe   ProbeFunc
	group   singleflight.Group
	workers chan struct{}
	logger  zerolog.Logger
}

// NewProber creates a prober. A nil probe falls back to ffprobe.
func NewProber(store *library.Store, workers int, probe ProbeFunc, logger zerolog.Logger) *Prober {
	if workers < 1 {
		workers = 1
	}
	if probe == nil {
		probe = FFProbe("ffprobe")
	}
	return &Prober{
		store:   store,
		probe:   probe,
		workers: make(chan struct{}, workers),
		logger:  logger.With().Str("component", "metadata").Logger(),
	}
}

// FillPending probes every item still waiting for metadata. Items sharing
// a lookup key resolve through one probe. Probe failures are logged and
// skipped; the items stay pending for the next pass.
func (p *Prober) FillPending(ctx context.Context) error {
	items, err := p.store.ItemsMissingMetadata(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	p.logger.Info().Int("pending", len(items)).Msg("filling missing metadata")
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.workers <- struct{}{}:
		}
		p.probeItem(ctx, item)
		<-p.workers
	}
	return nil
}

// Enqueue probes one item in the background.
func (p *Prober) Enqueue(ctx context.Context, item models.MediaItem) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case p.workers <- struct{}{}:
		}
		defer func() { <-p.workers }()
		p.probeItem(ctx, item)
	}()
}

func (p *Prober) probeItem(ctx context.Context, item models.MediaItem) {
	value, err, shared := p.group.Do(item.LookupKey, func() (any, error) {
		return p.probe(ctx, item.LookupKey)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("lookup_key", item.LookupKey).Msg("probe failed")
		return
	}

	result := value.(Result)
	if shared {
		p.logger.Debug().Str("lookup_key", item.LookupKey).Msg("probe result shared")
	}

	if err := p.store.UpdateMetadata(ctx, item.ID, result.Duration, result.Width, result.Height); err != nil {
		p.logger.Warn().Err(err).Str("item_id", item.ID).Msg("metadata update failed")
	}
}

// ffprobeOutput maps the subset of ffprobe JSON the prober reads.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// FFProbe returns a ProbeFunc that shells out to the given ffprobe binary.
func FFProbe(bin string) ProbeFunc {
	return func(ctx context.Context, path string) (Result, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		cmd := exec.CommandContext(probeCtx, bin,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		)
		raw, err := cmd.Output()
		if err != nil {
			return Result{}, fmt.Errorf("ffprobe %s: %w", path, err)
		}

		var out ffprobeOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return Result{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
		}

		seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return Result{}, fmt.Errorf("parse duration %q for %s: %w", out.Format.Duration, path, err)
		}

		result := Result{Duration: time.Duration(seconds * float64(time.Second))}
		for _, stream := range out.Streams {
			if stream.CodecType == "video" {
				result.Width = stream.Width
				result.Height = stream.Height
				break
			}
		}
		return result, nil
	}
}
