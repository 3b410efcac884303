/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the local control API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_canvas/internal/catalog"
	"github.com/friendsincode/grimnir_canvas/internal/config"
	"github.com/friendsincode/grimnir_canvas/internal/coordinator"
	"github.com/friendsincode/grimnir_canvas/internal/displays"
	"github.com/friendsincode/grimnir_canvas/internal/library"
	"github.com/friendsincode/grimnir_canvas/internal/models"
	"github.com/friendsincode/grimnir_canvas/internal/telemetry"
	"github.com/friendsincode/grimnir_canvas/internal/version"
)

// Server is the control API host.
type Server struct {
	store    *library.Store
	registry *displays.Registry
	coord    *coordinator.Coordinator
	scanner  *catalog.Scanner
	logger   zerolog.Logger
	router   chi.Router
	http     *http.Server
}

// New creates the control API server.
func New(addr string, store *library.Store, registry *displays.Registry, coord *coordinator.Coordinator, scanner *catalog.Scanner, logger zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		coord:    coord,
		scanner:  scanner,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("control API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/scan", s.handleScan)

		r.Get("/sync-mode", s.handleGetSyncMode)
		r.Put("/sync-mode", s.handleSetSyncMode)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", s.handleListPlaylists)
			r.Post("/", s.handleCreatePlaylist)
			r.Route("/{playlistID}", func(r chi.Router) {
				r.Get("/", s.handleGetPlaylist)
				r.Delete("/", s.handleDeletePlaylist)
				r.Put("/settings", s.handlePlaylistSettings)
				r.Put("/order", s.handleReorder)
				r.Delete("/order", s.handleClearOrder)
			})
		})

		r.Put("/items/{itemID}/excluded", s.handleSetExcluded)

		r.Route("/displays", func(r chi.Router) {
			r.Get("/", s.handleListDisplays)
			r.Route("/{screenID}", func(r chi.Router) {
				r.Get("/", s.handleDisplayStatus)
				r.Put("/playlist", s.handleAssignPlaylist)
				r.Put("/options", s.handleDisplayOptions)
				r.Put("/playback", s.handlePlaybackSettings)
				r.Post("/play", s.handlePlay)
				r.Post("/pause", s.handlePause)
				r.Post("/stop", s.handleStop)
				r.Post("/next", s.handleNext)
				r.Post("/previous", s.handlePrevious)
			})
		})

		r.Route("/power", func(r chi.Router) {
			r.Post("/battery", s.handleBattery)
			r.Post("/lock", s.handleLock)
		})
	})

	return r
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error().Err(err).Msg("encode response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}

// mapStoreError translates store sentinels to HTTP status codes.
func (s *Server) mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrPlaylistNotFound), errors.Is(err, library.ErrItemNotFound), errors.Is(err, displays.ErrBindingNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, library.ErrDuplicateName), errors.Is(err, library.ErrMirrorProtected):
		s.respondError(w, http.StatusConflict, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func decode(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"sync_mode": s.coord.Mode(),
		"engines":   s.coord.Statuses(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("no media folders configured"))
		return
	}
	go func() {
		if err := s.scanner.ScanOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("triggered scan failed")
		}
	}()
	s.respond(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func (s *Server) handleGetSyncMode(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"mode": string(s.coord.Mode())})
}

func (s *Server) handleSetSyncMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.SetMode(config.SyncMode(req.Mode)); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.store.ListPlaylists(r.Context())
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, playlists)
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	playlist, err := s.store.CreatePlaylist(r.Context(), req.Name)
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, playlist)
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	playlist, err := s.store.GetPlaylist(r.Context(), chi.URLParam(r, "playlistID"))
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, playlist)
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	if err := s.store.DeletePlaylist(r.Context(), playlistID); err != nil {
		s.mapStoreError(w, err)
		return
	}
	if err := s.registry.ClearPlaylist(playlistID); err != nil {
		s.logger.Warn().Err(err).Str("playlist_id", playlistID).Msg("binding cleanup failed")
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) handlePlaylistSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shuffle   bool   `json:"shuffle"`
		Loop      bool   `json:"loop"`
		SortOrder string `json:"sort_order"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	err := s.store.UpdatePlaylistSettings(r.Context(), chi.URLParam(r, "playlistID"),
		req.Shuffle, req.Loop, models.SortOrder(req.SortOrder))
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Reorder(r.Context(), chi.URLParam(r, "playlistID"), req.ItemIDs); err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func (s *Server) handleClearOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearCustomOrder(r.Context(), chi.URLParam(r, "playlistID")); err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSetExcluded(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Excluded bool `json:"excluded"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetExcluded(r.Context(), chi.URLParam(r, "itemID"), req.Excluded); err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListDisplays(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.registry.List()
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, bindings)
}

func (s *Server) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	binding, err := s.registry.Binding(screenID)
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	payload := map[string]any{"binding": binding}
	if status, ok := s.coord.EngineStatus(screenID); ok {
		payload["engine"] = status
	}
	s.respond(w, http.StatusOK, payload)
}

func (s *Server) handleAssignPlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlaylistID *string `json:"playlist_id"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PlaylistID != nil {
		if _, err := s.store.GetPlaylist(r.Context(), *req.PlaylistID); err != nil {
			s.mapStoreError(w, err)
			return
		}
	}
	binding, err := s.registry.Assign(chi.URLParam(r, "screenID"), req.PlaylistID)
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, binding)
}

func (s *Server) handleDisplayOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shuffle bool `json:"shuffle"`
		Loop    bool `json:"loop"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	binding, err := s.registry.SetLegacyOptions(chi.URLParam(r, "screenID"), req.Shuffle, req.Loop)
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, binding)
}

func (s *Server) handlePlaybackSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate              *float64 `json:"rate"`
		TransitionSeconds *float64 `json:"transition_seconds"`
		Muted             *bool    `json:"muted"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	eng, err := s.coord.EngineFor(r.Context(), chi.URLParam(r, "screenID"))
	if err != nil {
		s.mapStoreError(w, err)
		return
	}
	if req.Rate != nil {
		eng.SetRate(*req.Rate)
	}
	if req.TransitionSeconds != nil {
		eng.SetTransitionDuration(time.Duration(*req.TransitionSeconds * float64(time.Second)))
	}
	if req.Muted != nil {
		eng.SetMuted(*req.Muted)
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.transport(w, r, s.coord.Play)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transport(w, r, s.coord.Pause)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.transport(w, r, s.coord.Stop)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.transport(w, r, s.coord.Next)
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.transport(w, r, s.coord.Previous)
}

func (s *Server) transport(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	if err := action(r.Context(), chi.URLParam(r, "screenID")); err != nil {
		s.mapStoreError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OnBattery bool `json:"on_battery"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.OnBattery {
		s.coord.PauseAll()
	} else {
		s.coord.ResumeAll()
	}
	s.respond(w, http.StatusOK, map[string]bool{"on_battery": req.OnBattery})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Locked {
		s.coord.PauseAll()
	} else {
		s.coord.ResumeAll()
	}
	s.respond(w, http.StatusOK, map[string]bool{"locked": req.Locked})
}
