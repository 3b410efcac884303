/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Player is one playback slot. Load is asynchronous: onReady fires exactly
// once, with a nil error when the media is decoded and ready to render.
// Implementations deliver onReady and the ended callback from their own
// goroutines; the engine serializes re-entry itself.
type Player interface {
	Load(path string, onReady func(error))
	Play()
	Pause()
	Stop()
	SetRate(rate float64)
	SetMuted(muted bool)
	// SetOnEnded installs the end-of-content observer. A non-nil error
	// means the content ended because of a decode failure. Passing nil
	// clears the observer.
	SetOnEnded(fn func(error))
	// Release tears the player down permanently.
	Release()
}

// Renderer presents slot output on a display surface. Implementations
// re-parent their render target when the active slot flips.
type Renderer interface {
	AttachSlots(a, b Player)
	SetActiveSlot(index int)
}

// GstPlayer runs each clip through a gst-launch subprocess. Pause and
// resume map to SIGSTOP/SIGCONT; rate and mute are recorded and applied on
// the next Load because a launched pipeline is fixed.
type GstPlayer struct {
	bin     string
	scaling string
	logger  zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	loadGen uint64
	paused  bool
	rate    float64
	muted   bool
	onEnded func(error)
}

// NewGstPlayer creates a slot player. bin is the gst-launch binary
// ("gst-launch-1.0" when empty); scaling selects how the video fills the
// surface ("fill" crops, "fit" letterboxes).
func NewGstPlayer(bin, scaling string, logger zerolog.Logger) *GstPlayer {
	if bin == "" {
		bin = "gst-launch-1.0"
	}
	if scaling == "" {
		scaling = "fill"
	}
	return &GstPlayer{
		bin:     bin,
		scaling: scaling,
		logger:  logger.With().Str("component", "gst_player").Logger(),
		rate:    1.0,
	}
}

// Load stops any current pipeline and spawns a new one for path. Readiness
// is reported once the process starts; a spawn failure is reported through
// onReady, a later crash through the ended observer.
func (p *GstPlayer) Load(path string, onReady func(error)) {
	p.mu.Lock()
	p.stopLocked()
	p.loadGen++
	gen := p.loadGen

	ctx, cancel := context.WithCancel(context.Background())
	scale := "videoscale add-borders=false"
	if p.scaling == "fit" {
		scale = "videoscale add-borders=true"
	}
	args := []string{
		"filesrc", fmt.Sprintf("location=%s", path),
		"!", "decodebin",
		"!", "videorate",
		"!", "videoconvert",
		"!", scale,
		"!", "autovideosink",
	}
	cmd := exec.CommandContext(ctx, p.bin, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		p.mu.Unlock()
		p.logger.Warn().Err(err).Str("path", path).Msg("pipeline spawn failed")
		onReady(fmt.Errorf("start pipeline: %w", err))
		return
	}

	p.cmd = cmd
	p.cancel = cancel
	p.paused = false
	p.mu.Unlock()

	p.logger.Debug().Str("path", path).Int("pid", cmd.Process.Pid).Msg("pipeline started")
	go p.watch(gen, cmd)
	onReady(nil)
}

// watch waits for the pipeline process and reports its exit through the
// ended observer, unless the exit was caused by a deliberate Stop.
func (p *GstPlayer) watch(gen uint64, cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	if gen != p.loadGen || p.cmd != cmd {
		// Superseded by a later Load or an explicit Stop.
		p.mu.Unlock()
		return
	}
	p.cmd = nil
	p.cancel = nil
	ended := p.onEnded
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn().Err(err).Msg("pipeline exited abnormally")
	}
	if ended != nil {
		ended(err)
	}
}

// Play resumes a paused pipeline.
func (p *GstPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || !p.paused {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		p.logger.Warn().Err(err).Msg("resume signal failed")
		return
	}
	p.paused = false
}

// Pause suspends the pipeline process without releasing it.
func (p *GstPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || p.paused {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		p.logger.Warn().Err(err).Msg("pause signal failed")
		return
	}
	p.paused = true
}

// Stop terminates the pipeline and releases the loaded media.
func (p *GstPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *GstPlayer) stopLocked() {
	if p.cancel != nil {
		// Invalidate the watcher first so the kill is not reported as an
		// abnormal exit.
		p.loadGen++
		p.cancel()
		p.cancel = nil
	}
	p.cmd = nil
	p.paused = false
}

// SetRate records the playback rate for the next pipeline.
func (p *GstPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
}

// SetMuted records the mute flag for the next pipeline. Wallpaper playback
// is muted in practice; the flag exists for preview use.
func (p *GstPlayer) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// SetOnEnded installs or clears the end-of-content observer.
func (p *GstPlayer) SetOnEnded(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

// Release stops the pipeline for good.
func (p *GstPlayer) Release() {
	p.Stop()
}
