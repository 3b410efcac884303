/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/models"
)

// fakePlayer records calls and lets tests deliver readiness and
// end-of-content at exact points.
type fakePlayer struct {
	mu      sync.Mutex
	loads   []string
	pending func(error)
	playing bool
	stops   int
	rate    float64
	muted   bool
	onEnded func(error)
}

func (f *fakePlayer) Load(path string, onReady func(error)) {
	f.mu.Lock()
	f.loads = append(f.loads, path)
	f.pending = onReady
	f.mu.Unlock()
}

func (f *fakePlayer) finishLoad(err error) {
	f.mu.Lock()
	cb := f.pending
	f.pending = nil
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakePlayer) endPlayback(err error) {
	f.mu.Lock()
	cb := f.onEnded
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakePlayer) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakePlayer) lastLoad() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loads) == 0 {
		return ""
	}
	return f.loads[len(f.loads)-1]
}

func (f *fakePlayer) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) Play() {
	f.mu.Lock()
	f.playing = true
	f.mu.Unlock()
}

func (f *fakePlayer) Pause() {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	f.stops++
	f.playing = false
	f.mu.Unlock()
}

func (f *fakePlayer) SetRate(rate float64) {
	f.mu.Lock()
	f.rate = rate
	f.mu.Unlock()
}

func (f *fakePlayer) SetMuted(muted bool) {
	f.mu.Lock()
	f.muted = muted
	f.mu.Unlock()
}

func (f *fakePlayer) SetOnEnded(fn func(error)) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

func (f *fakePlayer) Release() {}

func testItems(ids ...string) []models.MediaItem {
	items := make([]models.MediaItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.MediaItem{ID: id, LookupKey: "/w/" + id + ".mp4"})
	}
	return items
}

func newTestEngine(t *testing.T) (*Engine, *fakePlayer, *fakePlayer, *events.Bus) {
	t.Helper()
	a := &fakePlayer{}
	b := &fakePlayer{}
	bus := events.NewBus()
	e := New("test", a, b, bus, Options{
		Rate:               1.0,
		TransitionDuration: 500 * time.Millisecond,
	}, zerolog.Nop())
	return e, a, b, bus
}

func TestPlayPreparesIntoInactiveSlotAndTransitions(t *testing.T) {
	e, _, b, bus := newTestEngine(t)
	slotEvents := bus.Subscribe(events.EventActiveSlotChanged)

	e.SetPlaylist(testItems("a", "b", "c"), false, true)
	e.Play()

	if got := b.loadCount(); got != 1 {
		t.Fatalf("inactive slot loads = %d, want 1", got)
	}
	if got := b.lastLoad(); got != "/w/a.mp4" {
		t.Fatalf("loaded %q, want first item", got)
	}

	b.finishLoad(nil)

	status := e.Status()
	if status.State != StateActive {
		t.Fatalf("state = %s, want active", status.State)
	}
	if status.ActiveSlot != 1 {
		t.Fatalf("active slot = %d, want 1", status.ActiveSlot)
	}
	if status.Current == nil || status.Current.ID != "a" {
		t.Fatalf("current = %+v, want item a", status.Current)
	}
	if !b.isPlaying() {
		t.Fatal("new active slot should be playing")
	}

	select {
	case payload := <-slotEvents:
		changed := payload.(events.ActiveSlotChanged)
		if changed.NewSlot != 1 || changed.OldSlot != 0 || changed.ItemID != "a" {
			t.Fatalf("unexpected slot change payload: %+v", changed)
		}
	default:
		t.Fatal("expected an active slot changed event")
	}
}

func TestPrepareWhileInFlightIsIgnored(t *testing.T) {
	e, _, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()

	// First preparation is still pending; these must not start another.
	e.PrepareNext()
	e.PrepareNext()
	e.PreparePrevious()

	if got := b.loadCount(); got != 1 {
		t.Fatalf("loads while preparing = %d, want 1", got)
	}
}

func TestStopDropsStaleReadinessCallback(t *testing.T) {
	e, a, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()
	e.Stop()

	// Readiness arrives after the stop; it belongs to an older generation.
	b.finishLoad(nil)

	status := e.Status()
	if status.State != StateIdle {
		t.Fatalf("state after stale callback = %s, want idle", status.State)
	}
	if status.Current != nil {
		t.Fatalf("current after stop = %+v, want none", status.Current)
	}
	if a.loadCount() != 0 || b.loadCount() != 1 {
		t.Fatal("stale callback must not trigger further loads")
	}
}

func TestLoadFailureAdvancesToNextItem(t *testing.T) {
	e, _, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b", "c"), false, true)
	e.Play()

	b.finishLoad(errors.New("decode error"))

	// The failed item is consumed and the following one loads immediately,
	// still into the inactive slot.
	if got := b.loadCount(); got != 2 {
		t.Fatalf("loads after failure = %d, want 2", got)
	}
	if got := b.lastLoad(); got != "/w/b.mp4" {
		t.Fatalf("loaded %q after failure, want item b", got)
	}

	b.finishLoad(nil)

	status := e.Status()
	if status.Current == nil || status.Current.ID != "b" {
		t.Fatalf("current = %+v, want item b", status.Current)
	}
	if status.Failures != 0 {
		t.Fatalf("failures after successful transition = %d, want 0", status.Failures)
	}
}

func TestExhaustionAfterEveryItemFails(t *testing.T) {
	e, a, b, bus := newTestEngine(t)
	ended := bus.Subscribe(events.EventPlaybackEnded)

	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()

	b.finishLoad(errors.New("bad file"))
	b.finishLoad(errors.New("bad file"))

	select {
	case payload := <-ended:
		report := payload.(events.PlaybackEnded)
		if report.Reason != events.EndFailure {
			t.Fatalf("end reason = %s, want failure", report.Reason)
		}
	default:
		t.Fatal("expected a playback ended event")
	}

	status := e.Status()
	if status.Playing {
		t.Fatal("engine should stop advancing after exhaustion")
	}
	if status.State != StateIdle {
		t.Fatalf("state = %s, want idle when nothing ever played", status.State)
	}
	if a.loadCount() != 0 || b.loadCount() != 2 {
		t.Fatal("exhaustion must not keep retrying")
	}
}

func TestExplicitPlayRetriesAfterExhaustion(t *testing.T) {
	e, _, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()
	b.finishLoad(errors.New("bad file"))
	b.finishLoad(errors.New("bad file"))

	e.Play()
	if got := b.loadCount(); got != 3 {
		t.Fatalf("loads after retry = %d, want 3", got)
	}
}

func TestMidPlaybackFailureIsTreatedAsNaturalEnd(t *testing.T) {
	e, a, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()
	b.finishLoad(nil)

	// The active slot dies mid-clip. The engine advances exactly as it
	// would at natural end of content, and the item is not penalized.
	b.endPlayback(errors.New("pipeline crashed"))

	if got := a.loadCount(); got != 1 {
		t.Fatalf("loads on inactive slot = %d, want 1", got)
	}
	if got := a.lastLoad(); got != "/w/b.mp4" {
		t.Fatalf("loaded %q, want item b", got)
	}

	a.finishLoad(nil)
	status := e.Status()
	if status.Current == nil || status.Current.ID != "b" {
		t.Fatalf("current = %+v, want item b", status.Current)
	}
	if status.Failures != 0 {
		t.Fatalf("mid-playback failure counted as load failure: %d", status.Failures)
	}
}

func TestNonLoopingPlaylistStopsAtEnd(t *testing.T) {
	e, a, b, bus := newTestEngine(t)
	ended := bus.Subscribe(events.EventPlaybackEnded)

	e.SetPlaylist(testItems("a"), false, false)
	e.Play()
	b.finishLoad(nil)

	b.endPlayback(nil)

	select {
	case payload := <-ended:
		report := payload.(events.PlaybackEnded)
		if report.Reason != events.EndNatural {
			t.Fatalf("end reason = %s, want natural", report.Reason)
		}
	default:
		t.Fatal("expected a playback ended event")
	}
	if e.Status().Playing {
		t.Fatal("engine should not be playing past the end of a non-looping list")
	}
	if a.loadCount() != 0 {
		t.Fatal("no further loads expected at end of list")
	}
}

func TestPreparePreviousWrapsToEnd(t *testing.T) {
	e, a, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b", "c"), false, true)
	e.Play()
	b.finishLoad(nil)

	e.PreparePrevious()
	if got := a.lastLoad(); got != "/w/c.mp4" {
		t.Fatalf("previous from first item loaded %q, want wrap to c", got)
	}

	a.finishLoad(nil)
	if status := e.Status(); status.Current == nil || status.Current.ID != "c" {
		t.Fatalf("current = %+v, want item c", status.Current)
	}
}

func TestPauseSuspendsBothSlots(t *testing.T) {
	e, a, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a", "b"), false, true)
	e.Play()
	b.finishLoad(nil)

	e.Pause()
	if a.isPlaying() || b.isPlaying() {
		t.Fatal("pause should suspend both slots")
	}
	if e.Status().Playing {
		t.Fatal("status should report paused")
	}

	e.Play()
	if !b.isPlaying() {
		t.Fatal("resume should restart the active slot")
	}
}

func TestPlayWithEmptyPlaylistDoesNothing(t *testing.T) {
	e, a, b, _ := newTestEngine(t)
	e.SetPlaylist(nil, false, true)
	e.Play()

	if a.loadCount() != 0 || b.loadCount() != 0 {
		t.Fatal("empty playlist must not trigger loads")
	}
	if status := e.Status(); status.State != StateIdle || status.Playing {
		t.Fatalf("status = %+v, want idle", status)
	}
}

func TestSetRateIsClamped(t *testing.T) {
	e, _, b, _ := newTestEngine(t)
	e.SetPlaylist(testItems("a"), false, true)
	e.Play()
	b.finishLoad(nil)

	e.SetRate(10.0)
	if got := b.rate; got != 2.0 {
		t.Fatalf("rate = %v, want clamped to 2.0", got)
	}
	e.SetRate(0.01)
	if got := b.rate; got != 0.5 {
		t.Fatalf("rate = %v, want clamped to 0.5", got)
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from  State
		to    State
		valid bool
	}{
		{StateIdle, StatePreparing, true},
		{StatePreparing, StateReady, true},
		{StatePreparing, StateIdle, true},
		{StateReady, StateTransitioning, true},
		{StateTransitioning, StateActive, true},
		{StateActive, StateTransitioning, true},
		{StateActive, StateStopped, true},
		{StateStopped, StateIdle, true},
		{StateIdle, StateActive, false},
		{StateReady, StateActive, false},
		{StateStopped, StateActive, false},
		{StateActive, StateReady, false},
	}

	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.valid {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
