package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "mpv-manager").Logger()

// Handlers receive reconciled playback state. Nil fields are skipped.
// Handlers run on the Run goroutine.
type Handlers struct {
	OnPlayStateChange func(playing bool)
	OnTimePos         func(seconds float64)
	OnDuration        func(ms int64)
	OnVolume          func(volume float64)
	OnFileLoaded      func()
	OnPlaybackRestart func()
	OnEnded           func(reason string)
}

// PlaybackState is the reconciliation state of the current load.
type PlaybackState struct {
	AutoPlayPending    *bool
	SeekPendingSeconds *float64
	PlaybackStarted    bool
	ForcePaused        bool
}

// Manager turns the native player's unordered property stream into a
// deterministic play/pause state for one load at a time.
type Manager struct {
	native NativePlayer

	mu       sync.Mutex
	state    PlaybackState
	handlers Handlers
	running  bool
}

// NewManager wraps a native player.
func NewManager(native NativePlayer) *Manager {
	return &Manager{native: native}
}

// SetHandlers replaces the handler set.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

// State returns a copy of the reconciliation state.
func (m *Manager) State() PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run delivers native events to the handlers until ctx is done or the event
// stream closes. Only the first call subscribes; later calls return nil
// immediately.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	events := m.native.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.dispatch(ev)
		}
	}
}

// Play loads url. autoPlay false leaves the track paused once loaded. A pause
// latched on the previous track does not carry over; a pending seek does.
func (m *Manager) Play(ctx context.Context, url, title string, autoPlay bool) error {
	m.mu.Lock()
	m.state.AutoPlayPending = &autoPlay
	m.state.PlaybackStarted = false
	m.state.ForcePaused = false
	m.mu.Unlock()

	res, err := m.native.Play(ctx, url, title, autoPlay)
	if err != nil {
		return fmt.Errorf("mpv play failed: %w", err)
	}
	if !res.Success {
		if res.Error != "" {
			return errors.New(res.Error)
		}
		return errors.New("mpv playback failed")
	}
	return nil
}

// SetPendingSeek seeks to seconds once the next file is loaded.
func (m *Manager) SetPendingSeek(seconds float64) {
	m.mu.Lock()
	m.state.SeekPendingSeconds = &seconds
	m.mu.Unlock()
}

// ClearForcePaused drops the forced pause latch, typically before a user
// initiated resume.
func (m *Manager) ClearForcePaused() {
	m.mu.Lock()
	m.state.ForcePaused = false
	m.mu.Unlock()
}

// Pause latches the paused state so a later playback restart, such as the
// one that follows a seek, keeps reporting paused.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.state.ForcePaused = true
	m.mu.Unlock()
	m.run("pause", m.native.Pause())
}

func (m *Manager) Resume() {
	m.ClearForcePaused()
	m.run("resume", m.native.Resume())
}

func (m *Manager) Stop() {
	m.run("stop", m.native.Stop())
}

func (m *Manager) Seek(seconds float64) {
	m.run("seek", m.native.Seek(seconds))
}

// SetVolume takes a volume in 0..1.
func (m *Manager) SetVolume(volume float64) {
	volume = math.Max(0, math.Min(1, volume))
	m.run("set-volume", m.native.SetVolume(volume*100))
}

func (m *Manager) SetRate(rate float64) {
	m.run("set-rate", m.native.SetRate(rate))
}

// SetAudioDevice switches the output device.
func (m *Manager) SetAudioDevice(ctx context.Context, id string) error {
	res, err := m.native.SetAudioDevice(ctx, id)
	if err != nil {
		return fmt.Errorf("mpv set-audio-device failed: %w", err)
	}
	if !res.Success {
		if res.Error != "" {
			return errors.New(res.Error)
		}
		return fmt.Errorf("mpv could not switch to device %q", id)
	}
	return nil
}

func (m *Manager) run(cmd string, err error) {
	if err != nil {
		logger.Warn().Err(err).Str("command", cmd).Msg("mpv command failed")
	}
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	h := m.handlers
	var (
		calls    []func()
		commands []func() error
	)

	switch e := ev.(type) {
	case TimePosChanged:
		if h.OnTimePos != nil {
			calls = append(calls, func() { h.OnTimePos(e.Seconds) })
		}

	case PauseChanged:
		// Pause toggles during loading are noise.
		if !m.state.PlaybackStarted {
			break
		}
		playing := !e.Paused
		if m.state.ForcePaused {
			playing = false
		}
		if h.OnPlayStateChange != nil {
			calls = append(calls, func() { h.OnPlayStateChange(playing) })
		}

	case DurationChanged:
		if h.OnDuration != nil {
			ms := int64(math.Floor(e.Seconds * 1000))
			calls = append(calls, func() { h.OnDuration(ms) })
		}

	case VolumeChanged:
		if h.OnVolume != nil {
			calls = append(calls, func() { h.OnVolume(e.Percent / 100) })
		}

	case FileLoaded:
		if h.OnFileLoaded != nil {
			calls = append(calls, h.OnFileLoaded)
		}
		if s := m.state.SeekPendingSeconds; s != nil && *s > 0 {
			at := *s
			commands = append(commands, func() error { return m.native.Seek(at) })
		}
		if ap := m.state.AutoPlayPending; ap != nil && !*ap {
			commands = append(commands, m.native.Pause)
			m.state.ForcePaused = true
			if h.OnPlayStateChange != nil {
				calls = append(calls, func() { h.OnPlayStateChange(false) })
			}
		}
		m.state.SeekPendingSeconds = nil

	case PlaybackRestart:
		m.state.PlaybackStarted = true
		ap := m.state.AutoPlayPending
		if m.state.ForcePaused || (ap != nil && !*ap) {
			commands = append(commands, m.native.Pause)
			m.state.ForcePaused = true
			if h.OnPlayStateChange != nil {
				calls = append(calls, func() { h.OnPlayStateChange(false) })
			}
		} else if h.OnPlayStateChange != nil {
			calls = append(calls, func() { h.OnPlayStateChange(true) })
		}
		if h.OnPlaybackRestart != nil {
			calls = append(calls, h.OnPlaybackRestart)
		}
		m.state.AutoPlayPending = nil

	case Ended:
		m.state.PlaybackStarted = false
		if h.OnEnded != nil {
			calls = append(calls, func() { h.OnEnded(e.Reason) })
		}
	}
	m.mu.Unlock()

	for _, cmd := range commands {
		m.run("reconcile", cmd())
	}
	for _, call := range calls {
		call()
	}
}
