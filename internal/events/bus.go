/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"
)

// EventType enumerates event categories. Each type carries exactly one
// payload struct from payloads.go.
type EventType string

const (
	// EventActiveSlotChanged fires after a transition; presentation layers
	// re-parent render targets in response.
	EventActiveSlotChanged EventType = "active_slot_changed"
	// EventPlaybackEnded fires when an engine stops advancing.
	EventPlaybackEnded EventType = "playback_ended"
	// EventPlaylistChanged is a coarse invalidation signal; recipients
	// re-read the playlist rather than receiving deltas.
	EventPlaylistChanged EventType = "playlist_changed"
	// EventScheduleStateChanged signals play/pause state changes.
	EventScheduleStateChanged EventType = "schedule_state_changed"
	// EventSyncModeChanged fires on a coordinator mode flip.
	EventSyncModeChanged EventType = "sync_mode_changed"
	// EventMetadataUpdated fires after the async metadata fill for an item.
	EventMetadataUpdated EventType = "metadata_updated"
)

// EndReason distinguishes natural completion from failure.
type EndReason string

const (
	EndNatural EndReason = "natural"
	EndFailure EndReason = "failure"
)

// ActiveSlotChanged carries both slot identities so a renderer can re-parent.
type ActiveSlotChanged struct {
	EngineID string
	NewSlot  int
	OldSlot  int
	ItemID   string
}

// PlaybackEnded reports that an engine stopped advancing.
type PlaybackEnded struct {
	EngineID string
	Reason   EndReason
}

// PlaylistChanged is emitted after any persisted playlist mutation.
type PlaylistChanged struct {
	PlaylistID string
}

// ScheduleStateChanged reports a coarse playing/paused flip.
type ScheduleStateChanged struct {
	EngineID string
	Playing  bool
}

// SyncModeChanged reports a coordinator mode flip.
type SyncModeChanged struct {
	Mode string
}

// MetadataUpdated reports a completed metadata probe.
type MetadataUpdated struct {
	ItemID    string
	LookupKey string
	Duration  time.Duration
	Width     int
	Height    int
}

// Payload is one of the typed event structs above.
type Payload any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub with subscriber lists owned by
// the bus, one list per event kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events rather
// than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
