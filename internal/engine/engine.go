/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine drives wallpaper playback over two interchangeable player
// slots: the next clip is loaded into the idle slot while the current slot
// stays visible, then the engine flips slots and moves its observers across.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/config"
	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/models"
	"github.com/friendsincode/grimnir_canvas/internal/sequencer"
	"github.com/friendsincode/grimnir_canvas/internal/telemetry"
)

// State enumerates engine lifecycle states.
type State string

const (
	StateIdle          State = "idle"
	StatePreparing     State = "preparing"
	StateReady         State = "ready"
	StateActive        State = "active"
	StateTransitioning State = "transitioning"
	StateStopped       State = "stopped"
)

var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrExhausted indicates every item in the active list failed to load
	// within one pass.
	ErrExhausted = errors.New("no playable media")
)

// Options holds per-engine playback settings. Values are clamped at
// construction.
type Options struct {
	Rate               float64
	TransitionDuration time.Duration
	Muted              bool
	ProgressInterval   time.Duration
}

// Engine owns two player slots and the transition state machine between
// them. All mutation happens under one mutex; asynchronous work (slot
// loads, timers) re-enters through methods that take the mutex and check
// the generation counter, so callbacks arriving after Stop are dropped.
type Engine struct {
	id     string
	bus    *events.Bus
	logger zerolog.Logger

	mu    sync.Mutex
	opts  Options
	slots [2]Player
	seq   *sequencer.Sequencer

	state        State
	active       int
	current      *models.MediaItem
	currentIndex int
	playing      bool
	preparing    bool
	failures     int
	generation   uint64
	everPlayed   bool

	boundaryTimer *time.Timer
	fadeTimer     *time.Timer
	progressStop  chan struct{}

	renderers []Renderer
}

// New creates an engine over two slots.
func New(id string, slotA, slotB Player, bus *events.Bus, opts Options, logger zerolog.Logger) *Engine {
	opts.Rate = config.ClampRate(opts.Rate)
	opts.TransitionDuration = config.ClampTransition(opts.TransitionDuration)
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = config.ProgressInterval
	}

	return &Engine{
		id:           id,
		bus:          bus,
		logger:       logger.With().Str("component", "engine").Str("engine_id", id).Logger(),
		opts:         opts,
		slots:        [2]Player{slotA, slotB},
		state:        StateIdle,
		currentIndex: -1,
	}
}

// ID returns the engine identifier.
func (e *Engine) ID() string {
	return e.id
}

// SetPlaylist replaces the working order. The failure counter resets so a
// rescan that adds playable media recovers on the next Play. If the item
// currently on screen is still present it keeps its cursor position.
func (e *Engine) SetPlaylist(items []models.MediaItem, shuffle, loop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq = sequencer.New(items, shuffle, loop, time.Now().UnixNano())
	e.failures = 0
	e.currentIndex = -1
	if e.current != nil {
		for i := 0; i < e.seq.Len(); i++ {
			if item, ok := e.seq.At(i); ok && item.ID == e.current.ID {
				e.currentIndex = i
				break
			}
		}
	}
}

// AttachRenderer registers a per-display presentation target and hands it
// the slot render handles immediately.
func (e *Engine) AttachRenderer(r Renderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderers = append(e.renderers, r)
	r.AttachSlots(e.slots[0], e.slots[1])
	r.SetActiveSlot(e.active)
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	State        State             `json:"state"`
	Playing      bool              `json:"playing"`
	ActiveSlot   int               `json:"active_slot"`
	CurrentIndex int               `json:"current_index"`
	Current      *models.MediaItem `json:"current,omitempty"`
	Failures     int               `json:"consecutive_failures"`
}

// Status returns a snapshot of playback state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var current *models.MediaItem
	if e.current != nil {
		copied := *e.current
		current = &copied
	}
	return Status{
		State:        e.state,
		Playing:      e.playing,
		ActiveSlot:   e.active,
		CurrentIndex: e.currentIndex,
		Current:      current,
		Failures:     e.failures,
	}
}

// Play starts or resumes playback. An empty playlist logs "nothing to
// play" and does nothing; empty is not an error.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.seq == nil || e.seq.Len() == 0 {
		e.mu.Unlock()
		e.logger.Info().Msg("nothing to play")
		return
	}

	// An explicit play is the one retry path out of exhaustion.
	e.failures = 0
	e.playing = true

	if e.current == nil {
		e.mu.Unlock()
		e.publishScheduleState(true)
		e.prepare(directionNext)
		return
	}

	slot := e.slots[e.active]
	slot.SetRate(e.opts.Rate)
	e.mu.Unlock()
	slot.Play()
	e.publishScheduleState(true)
}

// Pause suspends both slots without releasing resources.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.playing = false
	a, b := e.slots[0], e.slots[1]
	e.mu.Unlock()

	a.Pause()
	b.Pause()
	e.publishScheduleState(false)
}

// Stop releases loaded media, resets the cursor, and tears down all
// observers. Any in-flight preparation is cancelled: its eventual callback
// carries a stale generation and is ignored.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.generation++
	e.teardownObserversLocked()
	e.playing = false
	e.preparing = false
	e.failures = 0
	e.current = nil
	e.currentIndex = -1
	e.everPlayed = false
	e.setStateLocked(StateStopped)
	e.setStateLocked(StateIdle)
	a, b := e.slots[0], e.slots[1]
	e.mu.Unlock()

	a.Stop()
	b.Stop()
	e.publishScheduleState(false)
}

// Release stops the engine and releases both slot players. The engine must
// not be reused afterwards.
func (e *Engine) Release() {
	e.Stop()
	e.mu.Lock()
	a, b := e.slots[0], e.slots[1]
	e.mu.Unlock()
	a.Release()
	b.Release()
}

// PrepareNext loads the next item into the inactive slot. Re-entrant calls
// while a preparation is in flight are ignored, not queued.
func (e *Engine) PrepareNext() {
	e.prepare(directionNext)
}

// PreparePrevious loads the previous item into the inactive slot.
func (e *Engine) PreparePrevious() {
	e.prepare(directionPrevious)
}

// SetRate clamps and applies the playback rate.
func (e *Engine) SetRate(rate float64) {
	e.mu.Lock()
	e.opts.Rate = config.ClampRate(rate)
	slot := e.slots[e.active]
	r := e.opts.Rate
	e.mu.Unlock()
	slot.SetRate(r)
}

// SetMuted applies the mute flag to both slots.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.opts.Muted = muted
	a, b := e.slots[0], e.slots[1]
	e.mu.Unlock()
	a.SetMuted(muted)
	b.SetMuted(muted)
}

// SetTransitionDuration clamps and applies the crossfade window. It takes
// effect from the next boundary scheduling.
func (e *Engine) SetTransitionDuration(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.TransitionDuration = config.ClampTransition(d)
}

type direction int

const (
	directionNext direction = iota
	directionPrevious
)

func (e *Engine) prepare(dir direction) {
	e.mu.Lock()

	if e.preparing {
		e.logger.Debug().Msg("prepare already in flight, ignoring")
		e.mu.Unlock()
		return
	}
	if e.seq == nil || e.seq.Len() == 0 {
		e.logger.Debug().Msg("no items to prepare")
		e.mu.Unlock()
		return
	}

	var (
		item models.MediaItem
		idx  int
		ok   bool
	)
	if dir == directionNext {
		item, idx, ok = e.seq.Next(e.currentIndex)
	} else {
		item, idx, ok = e.seq.Previous(e.currentIndex)
	}
	if !ok {
		// End of a non-looping pass: stop advancing, do not error.
		e.playing = false
		e.logger.Info().Msg("playback complete, not looping")
		e.mu.Unlock()
		e.publishEnded(events.EndNatural)
		e.publishScheduleState(false)
		return
	}

	e.preparing = true
	if e.state == StateIdle {
		e.setStateLocked(StatePreparing)
	}
	gen := e.generation
	target := e.slots[1-e.active]
	e.mu.Unlock()

	start := time.Now()
	e.logger.Debug().Str("item", item.LookupKey).Int("index", idx).Msg("preparing slot")
	target.Load(item.LookupKey, func(err error) {
		e.onPrepared(gen, item, idx, err, start)
	})
}

// onPrepared is the readiness callback for the inactive slot.
func (e *Engine) onPrepared(gen uint64, item models.MediaItem, idx int, err error, start time.Time) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug().Str("item", item.LookupKey).Msg("stale readiness callback dropped")
		return
	}

	telemetry.PrepareDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		e.failures++
		e.preparing = false
		telemetry.LoadFailuresTotal.WithLabelValues(e.id).Inc()
		e.logger.Warn().Err(err).Str("item", item.LookupKey).
			Int("consecutive_failures", e.failures).Msg("slot load failed")

		if e.failures >= e.seq.Len() {
			// Every item failed in this pass. Stay on whatever was last
			// shown (or Idle if nothing ever succeeded) and report; retry
			// only happens on an explicit Play or playlist reload.
			if !e.everPlayed {
				e.setStateLocked(StateIdle)
			}
			e.playing = false
			e.mu.Unlock()
			e.logger.Error().Err(ErrExhausted).Msg("all items failed to load, giving up")
			e.publishEnded(events.EndFailure)
			return
		}

		// Consume the failed item and immediately try the following one,
		// still bounded by the preparing guard.
		e.currentIndex = idx
		e.mu.Unlock()
		e.prepare(directionNext)
		return
	}

	e.transitionLocked(item, idx)
}

// transitionLocked performs the slot flip. Called with e.mu held by
// onPrepared; unlocks before returning.
//
// Observer teardown always happens before re-installation, so there is no
// window where two sets of time observers are live on the same slot.
func (e *Engine) transitionLocked(item models.MediaItem, idx int) {
	if e.state == StatePreparing {
		e.setStateLocked(StateReady)
	}
	e.setStateLocked(StateTransitioning)

	e.teardownObserversLocked()

	oldActive := e.active
	e.active = 1 - e.active
	e.current = &item
	e.currentIndex = idx
	e.everPlayed = true

	newSlot := e.slots[e.active]
	newSlot.SetRate(e.opts.Rate)
	newSlot.SetMuted(e.opts.Muted)
	newSlot.Play()
	e.playing = true

	e.installObserversLocked(item)

	// The old slot keeps rendering through the crossfade window, then is
	// stopped. A Stop in between bumps the generation and cancels this.
	gen := e.generation
	e.fadeTimer = time.AfterFunc(e.opts.TransitionDuration, func() {
		e.stopSlotAfterFade(gen, oldActive)
	})

	e.failures = 0
	e.preparing = false
	e.setStateLocked(StateActive)

	for _, r := range e.renderers {
		r.SetActiveSlot(e.active)
	}

	e.logger.Info().
		Str("item", item.LookupKey).
		Int("new_slot", e.active).
		Int("old_slot", oldActive).
		Msg("transition complete")

	telemetry.TransitionsTotal.WithLabelValues(e.id).Inc()
	newActive := e.active
	itemID := item.ID
	e.mu.Unlock()

	e.bus.Publish(events.EventActiveSlotChanged, events.ActiveSlotChanged{
		EngineID: e.id,
		NewSlot:  newActive,
		OldSlot:  oldActive,
		ItemID:   itemID,
	})
}

// installObserversLocked installs end-of-content, look-ahead boundary and
// progress observers on the newly active slot.
func (e *Engine) installObserversLocked(item models.MediaItem) {
	gen := e.generation

	e.slots[e.active].SetOnEnded(func(err error) {
		e.onSlotEnded(gen, err)
	})

	// Look-ahead boundary: prepare the next clip early enough for the
	// crossfade to overlap instead of stutter. Clips too short for a full
	// transition window fall back to reactive end-of-content handling.
	if item.Duration > e.opts.TransitionDuration+time.Second {
		fireAt := item.Duration - e.opts.TransitionDuration
		e.boundaryTimer = time.AfterFunc(fireAt, func() {
			e.onBoundary(gen)
		})
	}

	// Advisory progress sampling; never gates correctness.
	stop := make(chan struct{})
	e.progressStop = stop
	go e.progressLoop(stop, item)
}

func (e *Engine) teardownObserversLocked() {
	if e.boundaryTimer != nil {
		e.boundaryTimer.Stop()
		e.boundaryTimer = nil
	}
	if e.fadeTimer != nil {
		e.fadeTimer.Stop()
		e.fadeTimer = nil
	}
	if e.progressStop != nil {
		close(e.progressStop)
		e.progressStop = nil
	}
	e.slots[e.active].SetOnEnded(nil)
}

func (e *Engine) progressLoop(stop chan struct{}, item models.MediaItem) {
	ticker := time.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.logger.Trace().
				Str("item", item.LookupKey).
				Dur("elapsed", time.Since(started)).
				Msg("progress")
		}
	}
}

// onBoundary fires at duration minus transition duration on the active slot.
func (e *Engine) onBoundary(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || !e.playing {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.prepare(directionNext)
}

// onSlotEnded handles end-of-content. Natural completion and mid-playback
// decode failure take the same advance path. Mid-clip failures never touch
// the failure counter: the item proved it could play and is safe to replay
// later.
func (e *Engine) onSlotEnded(gen uint64, err error) {
	e.mu.Lock()
	if gen != e.generation || !e.playing {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("mid-playback failure, treating as end of content")
	}
	e.mu.Unlock()
	e.prepare(directionNext)
}

func (e *Engine) stopSlotAfterFade(gen uint64, slotIndex int) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	slot := e.slots[slotIndex]
	e.mu.Unlock()
	slot.Stop()
}

func (e *Engine) publishEnded(reason events.EndReason) {
	telemetry.PlaybackEndedTotal.WithLabelValues(e.id, string(reason)).Inc()
	e.bus.Publish(events.EventPlaybackEnded, events.PlaybackEnded{
		EngineID: e.id,
		Reason:   reason,
	})
}

func (e *Engine) publishScheduleState(playing bool) {
	e.bus.Publish(events.EventScheduleStateChanged, events.ScheduleStateChanged{
		EngineID: e.id,
		Playing:  playing,
	})
}

// setStateLocked applies a validated state change. An invalid transition is
// logged and skipped rather than crashing playback.
func (e *Engine) setStateLocked(to State) {
	if !isValidTransition(e.state, to) {
		e.logger.Warn().
			Err(ErrInvalidTransition).
			Str("from", string(e.state)).
			Str("to", string(to)).
			Msg("state transition rejected")
		return
	}
	e.state = to
}

// isValidTransition reports whether a state transition is legal. The
// overlapping prepare while Active is tracked by the preparing flag, not a
// state change.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:          {StatePreparing, StateStopped},
		StatePreparing:     {StateReady, StateIdle, StateStopped},
		StateReady:         {StateTransitioning, StateStopped},
		StateTransitioning: {StateActive, StateStopped},
		StateActive:        {StateTransitioning, StatePreparing, StateStopped},
		StateStopped:       {StateIdle},
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == to {
			return true
		}
	}
	return false
}
