/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/models"
)

const (
	keyActiveList = "canvas:cache:active_list:" // + playlist_id

	activeListTTL = 5 * time.Minute
)

// CacheConfig contains redis cache configuration.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Cache provides an optional redis-backed read-through cache for active
// lists with graceful fallback: any redis error trips a circuit breaker and
// the store serves straight from the database.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	disabled bool
}

// NewCache creates a cache instance, or nil when no redis address is
// configured.
func NewCache(cfg CacheConfig, logger zerolog.Logger) *Cache {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	cache := &Cache{
		client: client,
		logger: logger.With().Str("component", "library_cache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cache.logger.Warn().Err(err).Msg("redis unreachable, cache disabled")
		cache.disabled = true
	}
	return cache
}

// ActiveList returns a cached active list if present.
func (c *Cache) ActiveList(ctx context.Context, playlistID string) ([]models.MediaItem, bool) {
	if c.isDisabled() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, keyActiveList+playlistID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.trip(err)
		return nil, false
	}
	var items []models.MediaItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// StoreActiveList caches an active list.
func (c *Cache) StoreActiveList(ctx context.Context, playlistID string, items []models.MediaItem) {
	if c.isDisabled() {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyActiveList+playlistID, raw, activeListTTL).Err(); err != nil {
		c.trip(err)
	}
}

// InvalidateActiveList drops the cached list for a playlist.
func (c *Cache) InvalidateActiveList(ctx context.Context, playlistID string) {
	if c.isDisabled() {
		return
	}
	if err := c.client.Del(ctx, keyActiveList+playlistID).Err(); err != nil {
		c.trip(err)
	}
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) isDisabled() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

func (c *Cache) trip(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disabled {
		c.logger.Warn().Err(err).Msg("redis error, disabling cache")
		c.disabled = true
	}
}
