package models

import (
	"sort"
	"time"
)

// SortOrder enumerates playlist ordering modes.
type SortOrder string

const (
	SortManual     SortOrder = "manual"
	SortName       SortOrder = "name"
	SortDuration   SortOrder = "duration"
	SortAddedDate  SortOrder = "added"
	SortResolution SortOrder = "resolution"
)

// PlaylistKind distinguishes curated playlists from the auto-synced mirror.
type PlaylistKind string

const (
	// PlaylistManual is created and curated explicitly by the user.
	PlaylistManual PlaylistKind = "manual"
	// PlaylistMirror tracks catalog discovery 1:1; membership is never
	// manually curated beyond exclusion.
	PlaylistMirror PlaylistKind = "mirror"
)

// MetadataState tracks the lazy metadata fill for an item.
type MetadataState string

const (
	MetadataPending  MetadataState = "pending"
	MetadataComplete MetadataState = "complete"
)

// MediaItem is one playable video file within a playlist.
//
// LookupKey (folder path + filename) is the only correlation key between
// persisted records and freshly discovered files; IDs are generated once and
// never derivable from disk state.
type MediaItem struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	PlaylistID    string `gorm:"type:uuid;index;uniqueIndex:idx_playlist_lookup"`
	LookupKey     string `gorm:"uniqueIndex:idx_playlist_lookup"`
	Excluded      bool
	CustomOrder   *int
	AddedAt       time.Time
	Duration      time.Duration
	Width         int
	Height        int
	MetadataState MetadataState `gorm:"type:varchar(16)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasMetadata reports whether the async metadata fill has completed.
func (m MediaItem) HasMetadata() bool {
	return m.MetadataState == MetadataComplete
}

// Playlist is a named, ordered collection of media items.
type Playlist struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	Kind      PlaylistKind `gorm:"type:varchar(16)"`
	Shuffle   bool
	Loop      bool
	SortOrder SortOrder `gorm:"type:varchar(16)"`
	Items     []MediaItem `gorm:"foreignKey:PlaylistID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayBinding assigns a playlist to a physical display. One record per
// screen id, created lazily on first reference and never destroyed; stale
// records for disconnected screens are inert.
type DisplayBinding struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	ScreenID   string  `gorm:"uniqueIndex"`
	PlaylistID *string `gorm:"type:uuid"`
	// Shuffle and Loop apply only when no named playlist is assigned
	// (legacy mode against the mirror playlist).
	Shuffle   bool
	Loop      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetadataEntry is the global metadata cache keyed by lookup key, independent
// of any playlist so metadata survives playlist deletion and recreation.
type MetadataEntry struct {
	LookupKey string `gorm:"primaryKey"`
	Duration  time.Duration
	Width     int
	Height    int
	UpdatedAt time.Time
}

// ActiveItems returns the non-excluded items of a playlist ordered per the
// given sort mode. Manual order places unset CustomOrder values last; ties
// are stable by AddedAt, then LookupKey.
func ActiveItems(items []MediaItem, order SortOrder) []MediaItem {
	active := make([]MediaItem, 0, len(items))
	for _, item := range items {
		if !item.Excluded {
			active = append(active, item)
		}
	}

	less := func(a, b MediaItem) bool {
		switch order {
		case SortName:
			if a.LookupKey != b.LookupKey {
				return a.LookupKey < b.LookupKey
			}
		case SortDuration:
			if a.Duration != b.Duration {
				return a.Duration < b.Duration
			}
		case SortResolution:
			ar, br := a.Width*a.Height, b.Width*b.Height
			if ar != br {
				return ar < br
			}
		case SortAddedDate:
			// fall through to the AddedAt tiebreak below
		case SortManual:
			ao, bo := a.CustomOrder, b.CustomOrder
			switch {
			case ao != nil && bo != nil && *ao != *bo:
				return *ao < *bo
			case ao != nil && bo == nil:
				return true
			case ao == nil && bo != nil:
				return false
			}
		}
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.LookupKey < b.LookupKey
	}

	sort.SliceStable(active, func(i, j int) bool { return less(active[i], active[j]) })
	return active
}
