/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sequencer computes next/previous items over a playlist's active
// list under shuffle and loop policy.
package sequencer

import (
	"math/rand"

	"github.com/friendsincode/grimnir_canvas/internal/models"
)

// Sequencer owns a working order derived from the active video list. With
// shuffle enabled the order is a random permutation computed once per load
// and re-permuted on wraparound, not on every call.
//
// Not safe for concurrent use; confined to the engine's owner goroutine.
type Sequencer struct {
	order   []models.MediaItem
	shuffle bool
	loop    bool
	rng     *rand.Rand
}

// New creates a sequencer over the given active list.
func New(items []models.MediaItem, shuffle, loop bool, seed int64) *Sequencer {
	s := &Sequencer{
		order:   append([]models.MediaItem(nil), items...),
		shuffle: shuffle,
		loop:    loop,
		rng:     rand.New(rand.NewSource(seed)),
	}
	if shuffle {
		s.permute()
	}
	return s
}

// Len returns the working order length.
func (s *Sequencer) Len() int {
	return len(s.order)
}

// At returns the item at a working-order index.
func (s *Sequencer) At(index int) (models.MediaItem, bool) {
	if index < 0 || index >= len(s.order) {
		return models.MediaItem{}, false
	}
	return s.order[index], true
}

// Next returns the item following afterIndex and its index. At the end of a
// looping list it re-permutes (when shuffling) and wraps to 0; at the end of
// a non-looping list it returns false, which callers treat as "stop", not as
// an error. An empty list always returns false.
func (s *Sequencer) Next(afterIndex int) (models.MediaItem, int, bool) {
	if len(s.order) == 0 {
		return models.MediaItem{}, -1, false
	}
	next := afterIndex + 1
	if next < len(s.order) {
		return s.order[next], next, true
	}
	if !s.loop {
		return models.MediaItem{}, -1, false
	}
	if s.shuffle {
		s.permute()
	}
	return s.order[0], 0, true
}

// Previous mirrors Next, wrapping to the last index when looping.
func (s *Sequencer) Previous(beforeIndex int) (models.MediaItem, int, bool) {
	if len(s.order) == 0 {
		return models.MediaItem{}, -1, false
	}
	prev := beforeIndex - 1
	if prev >= 0 && prev < len(s.order) {
		return s.order[prev], prev, true
	}
	if !s.loop {
		return models.MediaItem{}, -1, false
	}
	last := len(s.order) - 1
	return s.order[last], last, true
}

// Reshuffle re-randomizes the working order, e.g. on a settings change. If
// the new order would immediately replay the item currently on screen, it is
// rotated to the end.
func (s *Sequencer) Reshuffle(currentID string) {
	if !s.shuffle || len(s.order) == 0 {
		return
	}
	s.permute()
	if len(s.order) > 1 && s.order[0].ID == currentID {
		first := s.order[0]
		copy(s.order, s.order[1:])
		s.order[len(s.order)-1] = first
	}
}

func (s *Sequencer) permute() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}
