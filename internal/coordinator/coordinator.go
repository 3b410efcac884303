/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coordinator owns playback engines across displays and flips
// between independent (one engine per screen) and shared (one engine for
// all screens) operation.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/config"
	"github.com/friendsincode/grimnir_canvas/internal/displays"
	"github.com/friendsincode/grimnir_canvas/internal/engine"
	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/telemetry"
)

// SharedScreenID is the reserved screen identifier that backs the single
// engine in shared mode. Physical screens must never report this id.
const SharedScreenID = "shared"

// PlayerFactory builds the two slot players for a new engine.
type PlayerFactory func(screenID string) (engine.Player, engine.Player)

type managedEngine struct {
	engine     *engine.Engine
	playlistID string
	wasPlaying bool
}

// Coordinator resolves screens to engines. A mode flip is deliberately
// heavyweight: every engine is stopped and released, then rebuilt on next
// reference, rather than migrating live playback state between topologies.
type Coordinator struct {
	store    *library.Store
	registry *displays.Registry
	bus      *events.Bus
	players  PlayerFactory
	opts     engine.Options
	logger   zerolog.Logger

	mu      sync.Mutex
	mode    config.SyncMode
	engines map[string]*managedEngine
}

// New creates a coordinator in the given starting mode.
func New(store *library.Store, registry *displays.Registry, bus *events.Bus, players PlayerFactory, mode config.SyncMode, opts engine.Options, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: registry,
		bus:      bus,
		players:  players,
		opts:     opts,
		mode:     mode,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		engines:  make(map[string]*managedEngine),
	}
}

// Mode returns the current sync mode.
func (c *Coordinator) Mode() config.SyncMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Run consumes playlist invalidation events until ctx is cancelled. Each
// event triggers a coarse re-read of the affected engines' active lists.
func (c *Coordinator) Run(ctx context.Context) {
	changed := c.bus.Subscribe(events.EventPlaylistChanged)
	metadata := c.bus.Subscribe(events.EventMetadataUpdated)
	defer c.bus.Unsubscribe(events.EventPlaylistChanged, changed)
	defer c.bus.Unsubscribe(events.EventMetadataUpdated, metadata)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-changed:
			if p, ok := payload.(events.PlaylistChanged); ok {
				c.refreshPlaylist(ctx, p.PlaylistID)
			}
		case <-metadata:
			// Durations feed the look-ahead boundary; refresh so already
			// loaded working orders pick them up.
			c.refreshAll(ctx)
		}
	}
}

// EngineFor resolves the engine responsible for a screen, creating and
// loading it on first reference. In shared mode every screen maps to the
// one engine behind the reserved shared binding.
func (c *Coordinator) EngineFor(ctx context.Context, screenID string) (*engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engineForLocked(ctx, screenID)
}

func (c *Coordinator) engineForLocked(ctx context.Context, screenID string) (*engine.Engine, error) {
	key := screenID
	if c.mode == config.SyncShared {
		key = SharedScreenID
	}

	if managed, ok := c.engines[key]; ok {
		return managed.engine, nil
	}

	playlistID, shuffle, loop, err := c.resolveSource(ctx, key)
	if err != nil {
		return nil, err
	}

	items, err := c.store.ActiveList(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("load active list for %s: %w", key, err)
	}

	slotA, slotB := c.players(key)
	eng := engine.New(key, slotA, slotB, c.bus, c.opts, c.logger)
	eng.SetPlaylist(items, shuffle, loop)

	c.engines[key] = &managedEngine{engine: eng, playlistID: playlistID}
	telemetry.ActiveEngines.Set(float64(len(c.engines)))

	c.logger.Info().
		Str("screen_id", key).
		Str("playlist_id", playlistID).
		Int("items", len(items)).
		Msg("engine created")
	return eng, nil
}

// resolveSource maps a screen binding to its playlist and playback flags.
// With a named playlist assigned, the playlist's own settings win; without
// one the screen plays the mirror playlist under its legacy flags.
func (c *Coordinator) resolveSource(ctx context.Context, screenID string) (string, bool, bool, error) {
	binding, err := c.registry.Binding(screenID)
	if err != nil {
		return "", false, false, err
	}

	if binding.PlaylistID != nil {
		playlist, err := c.store.GetPlaylist(ctx, *binding.PlaylistID)
		if err == nil {
			return playlist.ID, playlist.Shuffle, playlist.Loop, nil
		}
		// Dangling assignment, fall back to legacy mode.
		c.logger.Warn().Err(err).
			Str("screen_id", screenID).
			Str("playlist_id", *binding.PlaylistID).
			Msg("assigned playlist missing, falling back to mirror")
	}

	mirror, err := c.store.MirrorPlaylist(ctx)
	if err != nil {
		return "", false, false, err
	}
	return mirror.ID, binding.Shuffle, binding.Loop, nil
}

// SetMode flips between independent and shared operation. Same-mode calls
// are no-ops.
func (c *Coordinator) SetMode(mode config.SyncMode) error {
	if mode != config.SyncIndependent && mode != config.SyncShared {
		return fmt.Errorf("unsupported sync mode %q", mode)
	}

	c.mu.Lock()
	if mode == c.mode {
		c.mu.Unlock()
		return nil
	}

	old := c.mode
	c.mode = mode
	released := c.drainEnginesLocked()
	c.mu.Unlock()

	for _, managed := range released {
		managed.engine.Release()
	}

	c.logger.Info().
		Str("from", string(old)).
		Str("to", string(mode)).
		Int("released_engines", len(released)).
		Msg("sync mode changed")

	c.bus.Publish(events.EventSyncModeChanged, events.SyncModeChanged{Mode: string(mode)})
	return nil
}

func (c *Coordinator) drainEnginesLocked() []*managedEngine {
	released := make([]*managedEngine, 0, len(c.engines))
	for _, managed := range c.engines {
		released = append(released, managed)
	}
	c.engines = make(map[string]*managedEngine)
	telemetry.ActiveEngines.Set(0)
	return released
}

// Play starts playback for a screen.
func (c *Coordinator) Play(ctx context.Context, screenID string) error {
	eng, err := c.EngineFor(ctx, screenID)
	if err != nil {
		return err
	}
	eng.Play()
	return nil
}

// Pause pauses playback for a screen.
func (c *Coordinator) Pause(ctx context.Context, screenID string) error {
	eng, err := c.EngineFor(ctx, screenID)
	if err != nil {
		return err
	}
	eng.Pause()
	return nil
}

// Stop stops playback for a screen and releases its loaded media.
func (c *Coordinator) Stop(ctx context.Context, screenID string) error {
	eng, err := c.EngineFor(ctx, screenID)
	if err != nil {
		return err
	}
	eng.Stop()
	return nil
}

// Next skips ahead to the next item for a screen.
func (c *Coordinator) Next(ctx context.Context, screenID string) error {
	eng, err := c.EngineFor(ctx, screenID)
	if err != nil {
		return err
	}
	eng.PrepareNext()
	return nil
}

// Previous steps back to the previous item for a screen.
func (c *Coordinator) Previous(ctx context.Context, screenID string) error {
	eng, err := c.EngineFor(ctx, screenID)
	if err != nil {
		return err
	}
	eng.PreparePrevious()
	return nil
}

// PauseAll suspends every engine, remembering which were playing so
// ResumeAll can restore exactly that set. Used for battery and lock-screen
// signals.
func (c *Coordinator) PauseAll() {
	c.mu.Lock()
	engines := make([]*managedEngine, 0, len(c.engines))
	for _, managed := range c.engines {
		managed.wasPlaying = managed.engine.Status().Playing
		engines = append(engines, managed)
	}
	c.mu.Unlock()

	for _, managed := range engines {
		managed.engine.Pause()
	}
}

// ResumeAll restarts the engines that PauseAll suspended.
func (c *Coordinator) ResumeAll() {
	c.mu.Lock()
	var engines []*managedEngine
	for _, managed := range c.engines {
		if managed.wasPlaying {
			managed.wasPlaying = false
			engines = append(engines, managed)
		}
	}
	c.mu.Unlock()

	for _, managed := range engines {
		managed.engine.Play()
	}
}

// EngineStatus reports a screen's engine snapshot without creating one.
func (c *Coordinator) EngineStatus(screenID string) (engine.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := screenID
	if c.mode == config.SyncShared {
		key = SharedScreenID
	}
	managed, ok := c.engines[key]
	if !ok {
		return engine.Status{}, false
	}
	return managed.engine.Status(), true
}

// Statuses returns a snapshot per live engine, keyed by engine id.
func (c *Coordinator) Statuses() map[string]engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]engine.Status, len(c.engines))
	for key, managed := range c.engines {
		out[key] = managed.engine.Status()
	}
	return out
}

// refreshPlaylist re-reads the active list into every engine bound to the
// changed playlist.
func (c *Coordinator) refreshPlaylist(ctx context.Context, playlistID string) {
	c.mu.Lock()
	affected := make(map[string]*managedEngine)
	for key, managed := range c.engines {
		if managed.playlistID == playlistID {
			affected[key] = managed
		}
	}
	c.mu.Unlock()

	for key, managed := range affected {
		c.reloadEngine(ctx, key, managed)
	}
}

func (c *Coordinator) refreshAll(ctx context.Context) {
	c.mu.Lock()
	engines := make(map[string]*managedEngine, len(c.engines))
	for key, managed := range c.engines {
		engines[key] = managed
	}
	c.mu.Unlock()

	for key, managed := range engines {
		c.reloadEngine(ctx, key, managed)
	}
}

func (c *Coordinator) reloadEngine(ctx context.Context, key string, managed *managedEngine) {
	playlistID, shuffle, loop, err := c.resolveSource(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("screen_id", key).Msg("refresh source resolution failed")
		return
	}

	items, err := c.store.ActiveList(ctx, playlistID)
	if err != nil {
		c.logger.Warn().Err(err).Str("screen_id", key).Msg("refresh active list failed")
		return
	}

	c.mu.Lock()
	managed.playlistID = playlistID
	c.mu.Unlock()

	managed.engine.SetPlaylist(items, shuffle, loop)
	c.logger.Debug().
		Str("screen_id", key).
		Str("playlist_id", playlistID).
		Int("items", len(items)).
		Msg("engine playlist refreshed")
}

// Shutdown releases every engine.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	released := c.drainEnginesLocked()
	c.mu.Unlock()

	for _, managed := range released {
		managed.engine.Release()
	}
}
