/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package displays persists the screen-to-playlist binding contract.
package displays

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_canvas/internal/models"
)

// ErrBindingNotFound indicates no binding exists for a screen.
var ErrBindingNotFound = errors.New("display binding not found")

// Registry resolves screen identifiers to persisted display bindings.
// Bindings are created lazily on first reference and never destroyed;
// records for disconnected screens simply go inert until the screen
// reappears under the same identifier.
type Registry struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewRegistry creates a display binding registry.
func NewRegistry(db *gorm.DB, logger zerolog.Logger) *Registry {
	return &Registry{
		db:     db,
		logger: logger.With().Str("component", "displays").Logger(),
	}
}

// ScreenKey derives the stable identifier for a screen. Screens that report
// no usable name are keyed by connector index so two unnamed screens never
// collide on one binding.
func ScreenKey(name string, index int) string {
	if name == "" {
		return fmt.Sprintf("unknown-%d", index)
	}
	return name
}

// Binding returns the binding for a screen, creating it on first reference.
// A fresh binding has no playlist assigned and loops the mirror playlist.
func (r *Registry) Binding(screenID string) (models.DisplayBinding, error) {
	var binding models.DisplayBinding
	err := r.db.
		Where(models.DisplayBinding{ScreenID: screenID}).
		Attrs(models.DisplayBinding{ID: uuid.NewString(), Loop: true}).
		FirstOrCreate(&binding).Error
	if err != nil {
		return models.DisplayBinding{}, fmt.Errorf("resolve binding for %s: %w", screenID, err)
	}
	return binding, nil
}

// Assign points a screen at a named playlist. A nil playlist reverts the
// screen to legacy mode against the mirror playlist.
func (r *Registry) Assign(screenID string, playlistID *string) (models.DisplayBinding, error) {
	binding, err := r.Binding(screenID)
	if err != nil {
		return models.DisplayBinding{}, err
	}

	binding.PlaylistID = playlistID
	if err := r.db.Save(&binding).Error; err != nil {
		return models.DisplayBinding{}, fmt.Errorf("assign playlist to %s: %w", screenID, err)
	}

	r.logger.Info().
		Str("screen_id", screenID).
		Interface("playlist_id", playlistID).
		Msg("display binding updated")
	return binding, nil
}

// SetLegacyOptions updates the shuffle and loop flags used when no named
// playlist is assigned.
func (r *Registry) SetLegacyOptions(screenID string, shuffle, loop bool) (models.DisplayBinding, error) {
	binding, err := r.Binding(screenID)
	if err != nil {
		return models.DisplayBinding{}, err
	}

	binding.Shuffle = shuffle
	binding.Loop = loop
	if err := r.db.Save(&binding).Error; err != nil {
		return models.DisplayBinding{}, fmt.Errorf("update options for %s: %w", screenID, err)
	}
	return binding, nil
}

// Get returns the binding for a screen without creating one.
func (r *Registry) Get(screenID string) (models.DisplayBinding, error) {
	var binding models.DisplayBinding
	err := r.db.Where("screen_id = ?", screenID).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DisplayBinding{}, ErrBindingNotFound
	}
	if err != nil {
		return models.DisplayBinding{}, fmt.Errorf("load binding for %s: %w", screenID, err)
	}
	return binding, nil
}

// List returns all known bindings, stale ones included.
func (r *Registry) List() ([]models.DisplayBinding, error) {
	var bindings []models.DisplayBinding
	if err := r.db.Order("screen_id").Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return bindings, nil
}

// ClearPlaylist detaches a playlist from every binding that references it,
// reverting those screens to legacy mode. Used when a playlist is deleted.
func (r *Registry) ClearPlaylist(playlistID string) error {
	err := r.db.Model(&models.DisplayBinding{}).
		Where("playlist_id = ?", playlistID).
		Update("playlist_id", nil).Error
	if err != nil {
		return fmt.Errorf("clear playlist %s from bindings: %w", playlistID, err)
	}
	return nil
}
