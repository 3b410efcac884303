/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library is the durable, mergeable record of known media items per
// playlist: exclusion flags, custom order, and lazily filled metadata.
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_canvas/internal/events"
	"github.com/friendsincode/grimnir_canvas/internal/models"
)

// MirrorPlaylistName is the reserved name of the catalog-mirror playlist.
const MirrorPlaylistName = "All Wallpapers"

var (
	// ErrPlaylistNotFound indicates the playlist does not exist.
	ErrPlaylistNotFound = errors.New("playlist not found")
	// ErrItemNotFound indicates the media item does not exist.
	ErrItemNotFound = errors.New("media item not found")
	// ErrDuplicateName indicates a playlist with that name already exists.
	ErrDuplicateName = errors.New("playlist name already in use")

	// ErrMirrorProtected guards the auto-synced mirror playlist from deletion.
	ErrMirrorProtected = errors.New("mirror playlist cannot be deleted")
)

// Store persists playlists and their items.
type Store struct {
	db     *gorm.DB
	bus    *events.Bus
	cache  *Cache
	logger zerolog.Logger

	// mergeMu serializes catalog merges so a second scan cannot interleave
	// with an in-progress merge.
	mergeMu sync.Mutex
}

// NewStore creates a library store. cache may be nil.
func NewStore(database *gorm.DB, bus *events.Bus, cache *Cache, logger zerolog.Logger) *Store {
	return &Store{
		db:     database,
		bus:    bus,
		cache:  cache,
		logger: logger.With().Str("component", "library").Logger(),
	}
}

// MirrorPlaylist returns the catalog-mirror playlist, creating it on first
// reference.
func (s *Store) MirrorPlaylist(ctx context.Context) (*models.Playlist, error) {
	var playlist models.Playlist
	err := s.db.WithContext(ctx).Where("kind = ?", models.PlaylistMirror).First(&playlist).Error
	if err == nil {
		return &playlist, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query mirror playlist: %w", err)
	}

	playlist = models.Playlist{
		ID:        uuid.NewString(),
		Name:      MirrorPlaylistName,
		Kind:      models.PlaylistMirror,
		Loop:      true,
		SortOrder: models.SortAddedDate,
	}
	if err := s.db.WithContext(ctx).Create(&playlist).Error; err != nil {
		return nil, fmt.Errorf("create mirror playlist: %w", err)
	}
	s.logger.Info().Str("playlist_id", playlist.ID).Msg("mirror playlist created")
	return &playlist, nil
}

// CreatePlaylist creates a named, user-curated playlist.
func (s *Store) CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Playlist{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check playlist name: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateName
	}

	playlist := models.Playlist{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      models.PlaylistManual,
		Loop:      true,
		SortOrder: models.SortAddedDate,
	}
	if err := s.db.WithContext(ctx).Create(&playlist).Error; err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}

	s.publishChanged(playlist.ID)
	return &playlist, nil
}

// GetPlaylist loads a playlist with its items.
func (s *Store) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	var playlist models.Playlist
	err := s.db.WithContext(ctx).Preload("Items").First(&playlist, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	return &playlist, nil
}

// ListPlaylists returns all playlists without items.
func (s *Store) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return playlists, nil
}

// DeletePlaylist removes a curated playlist and its items. The mirror
// playlist cannot be deleted. Metadata cache entries survive by design.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	playlist, err := s.GetPlaylist(ctx, id)
	if err != nil {
		return err
	}
	if playlist.Kind == models.PlaylistMirror {
		return ErrMirrorProtected
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&models.MediaItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Playlist{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}

	s.publishChanged(id)
	return nil
}

// UpdatePlaylistSettings updates shuffle/loop/sort for a playlist.
func (s *Store) UpdatePlaylistSettings(ctx context.Context, id string, shuffle, loop bool, order models.SortOrder) error {
	result := s.db.WithContext(ctx).Model(&models.Playlist{}).Where("id = ?", id).
		Updates(map[string]any{"shuffle": shuffle, "loop": loop, "sort_order": order, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("update playlist settings: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPlaylistNotFound
	}
	s.publishChanged(id)
	return nil
}

// Merge reconciles freshly discovered lookup keys against the playlist's
// persisted items.
//
// Existing records matched by lookup key are kept verbatim, preserving
// exclusion, order and metadata. Unmatched discovered keys become new
// records. Records not rediscovered are dropped. The one exception: an empty
// discovery list against a non-empty store is treated as a transient access
// failure and the merge no-ops, so a flaky mount cannot wipe user curation.
func (s *Store) Merge(ctx context.Context, playlistID string, discoveredKeys []string) error {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	var existing []models.MediaItem
	if err := s.db.WithContext(ctx).Where("playlist_id = ?", playlistID).Find(&existing).Error; err != nil {
		return fmt.Errorf("load items for merge: %w", err)
	}

	if len(discoveredKeys) == 0 && len(existing) > 0 {
		s.logger.Warn().Str("playlist_id", playlistID).
			Msg("empty discovery result against non-empty store, skipping merge")
		return nil
	}

	byKey := make(map[string]models.MediaItem, len(existing))
	for _, item := range existing {
		byKey[item.LookupKey] = item
	}

	now := time.Now()
	var added []models.MediaItem
	for _, key := range discoveredKeys {
		if _, ok := byKey[key]; ok {
			delete(byKey, key)
			continue
		}
		added = append(added, models.MediaItem{
			ID:            uuid.NewString(),
			PlaylistID:    playlistID,
			LookupKey:     key,
			AddedAt:       now,
			MetadataState: models.MetadataPending,
		})
	}

	changed := len(added) > 0 || len(byKey) > 0
	if !changed {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(added) > 0 {
			if err := tx.Create(&added).Error; err != nil {
				return err
			}
		}
		for key, item := range byKey {
			if err := tx.Delete(&models.MediaItem{}, "id = ?", item.ID).Error; err != nil {
				return fmt.Errorf("drop vanished item %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge playlist %s: %w", playlistID, err)
	}

	// Backfill metadata for items whose lookup key is already in the
	// global cache from a previous playlist generation.
	for i := range added {
		var entry models.MetadataEntry
		if err := s.db.WithContext(ctx).First(&entry, "lookup_key = ?", added[i].LookupKey).Error; err == nil {
			if err := s.applyMetadata(ctx, added[i].ID, entry); err != nil {
				s.logger.Warn().Err(err).Str("item_id", added[i].ID).Msg("metadata backfill failed")
			}
		}
	}

	s.logger.Info().
		Str("playlist_id", playlistID).
		Int("added", len(added)).
		Int("removed", len(byKey)).
		Msg("merge complete")

	s.publishChanged(playlistID)
	return nil
}

// SetExcluded flags an item in or out of playback without deleting it.
func (s *Store) SetExcluded(ctx context.Context, itemID string, excluded bool) error {
	item, err := s.item(ctx, itemID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", itemID).
		Update("excluded", excluded)
	if result.Error != nil {
		return fmt.Errorf("set excluded: %w", result.Error)
	}
	s.publishChanged(item.PlaylistID)
	return nil
}

// Reorder sets each item's custom order to its position in orderedIDs and
// switches the playlist to manual sort.
func (s *Store) Reorder(ctx context.Context, playlistID string, orderedIDs []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for position, id := range orderedIDs {
			result := tx.Model(&models.MediaItem{}).
				Where("id = ? AND playlist_id = ?", id, playlistID).
				Update("custom_order", position)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrItemNotFound, id)
			}
		}
		return tx.Model(&models.Playlist{}).Where("id = ?", playlistID).
			Update("sort_order", models.SortManual).Error
	})
	if err != nil {
		return fmt.Errorf("reorder playlist %s: %w", playlistID, err)
	}
	s.publishChanged(playlistID)
	return nil
}

// ClearCustomOrder resets manual positions for every item in the playlist.
func (s *Store) ClearCustomOrder(ctx context.Context, playlistID string) error {
	err := s.db.WithContext(ctx).Model(&models.MediaItem{}).
		Where("playlist_id = ?", playlistID).
		Update("custom_order", nil).Error
	if err != nil {
		return fmt.Errorf("clear custom order: %w", err)
	}
	s.publishChanged(playlistID)
	return nil
}

// ActiveList returns the playable items of a playlist in effective order.
func (s *Store) ActiveList(ctx context.Context, playlistID string) ([]models.MediaItem, error) {
	if s.cache != nil {
		if items, ok := s.cache.ActiveList(ctx, playlistID); ok {
			return items, nil
		}
	}

	playlist, err := s.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	active := models.ActiveItems(playlist.Items, playlist.SortOrder)

	if s.cache != nil {
		s.cache.StoreActiveList(ctx, playlistID, active)
	}
	return active, nil
}

// ItemsMissingMetadata returns items whose async metadata fill has not yet
// completed, across all playlists.
func (s *Store) ItemsMissingMetadata(ctx context.Context) ([]models.MediaItem, error) {
	var items []models.MediaItem
	err := s.db.WithContext(ctx).
		Where("metadata_state = ?", models.MetadataPending).
		Order("added_at").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list pending metadata: %w", err)
	}
	return items, nil
}

// UpdateMetadata applies probed metadata to an item by id and records it in
// the global cache. Exclusion and order are untouched.
func (s *Store) UpdateMetadata(ctx context.Context, itemID string, duration time.Duration, width, height int) error {
	item, err := s.item(ctx, itemID)
	if err != nil {
		return err
	}

	entry := models.MetadataEntry{
		LookupKey: item.LookupKey,
		Duration:  duration,
		Width:     width,
		Height:    height,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return fmt.Errorf("save metadata entry: %w", err)
	}
	if err := s.applyMetadata(ctx, itemID, entry); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(events.EventMetadataUpdated, events.MetadataUpdated{
			ItemID:    itemID,
			LookupKey: item.LookupKey,
			Duration:  duration,
			Width:     width,
			Height:    height,
		})
	}
	if s.cache != nil {
		s.cache.InvalidateActiveList(ctx, item.PlaylistID)
	}
	return nil
}

func (s *Store) applyMetadata(ctx context.Context, itemID string, entry models.MetadataEntry) error {
	err := s.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", itemID).
		Updates(map[string]any{
			"duration":       entry.Duration,
			"width":          entry.Width,
			"height":         entry.Height,
			"metadata_state": models.MetadataComplete,
		}).Error
	if err != nil {
		return fmt.Errorf("apply metadata: %w", err)
	}
	return nil
}

func (s *Store) item(ctx context.Context, itemID string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return &item, nil
}

func (s *Store) publishChanged(playlistID string) {
	if s.cache != nil {
		s.cache.InvalidateActiveList(context.Background(), playlistID)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventPlaylistChanged, events.PlaylistChanged{PlaylistID: playlistID})
	}
}
