package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"player-backend/internal/audio"
	"player-backend/internal/config"
	"player-backend/internal/decoder"
	"player-backend/internal/lyrics"
	"player-backend/internal/player"
	"player-backend/pkg/codec"
	"player-backend/pkg/timing"
)

var errFollowReadOnly = errors.New("follow mode cannot load tracks")

// engine is what produces sound and reports the playback position.
type engine interface {
	// Start acquires devices and processes. Load may be called afterwards.
	Start() error
	// Run pumps engine events until ctx is done.
	Run(ctx context.Context) error
	Load(ctx context.Context, path string) (lyrics.Track, error)
	Pause()
	Resume()
	Seek(seconds float64) error
	Stop()
	// Position is the media time in seconds.
	Position() float64
	Playing() bool
	Close()
}

// engineEvents are called from engine goroutines.
type engineEvents struct {
	onEnded   func()
	onPlaying func(playing bool)
	onTrack   func(track lyrics.Track)
}

func newEngine(cfg *config.Config, ev engineEvents) (engine, error) {
	switch cfg.App.Engine {
	case config.EngineMpv:
		return newMpvEngine(cfg.Mpv, ev), nil
	case config.EngineNative:
		return newNativeEngine(cfg, ev), nil
	case config.EngineFollow:
		return newFollowEngine(cfg, ev), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.App.Engine)
	}
}

// trackFromTags describes a local file for lyric lookup.
func trackFromTags(path string) lyrics.Track {
	track := lyrics.Track{Path: path}
	if tags, err := codec.ReadTags(path); err == nil {
		track.Title = tags.Metadata["title"]
		track.Artist = tags.Metadata["artist"]
	}
	if track.Title == "" {
		track.MediaTitle = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return track
}

type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// mpvEngine drives an mpv process through the reconciling Manager.
type mpvEngine struct {
	bridge *player.Bridge
	mgr    *player.Manager
	device string

	pos      atomicFloat
	duration atomic.Int64
	playing  atomic.Bool
}

func newMpvEngine(cfg config.MpvConfig, ev engineEvents) *mpvEngine {
	bridge := player.NewBridge(player.BridgeOptions{
		Executable: cfg.Executable,
		SocketDir:  cfg.SocketDir,
		ExtraArgs:  cfg.ExtraArgs,
	})
	e := &mpvEngine{bridge: bridge, mgr: player.NewManager(bridge), device: cfg.AudioDevice}
	e.mgr.SetHandlers(player.Handlers{
		OnTimePos:  e.pos.Store,
		OnDuration: e.duration.Store,
		OnPlayStateChange: func(playing bool) {
			e.playing.Store(playing)
			if ev.onPlaying != nil {
				ev.onPlaying(playing)
			}
		},
		OnEnded: func(reason string) {
			e.playing.Store(false)
			if reason == "eof" && ev.onEnded != nil {
				ev.onEnded()
			}
		},
	})
	return e
}

func (e *mpvEngine) Start() error {
	if err := e.bridge.Start(); err != nil {
		return err
	}
	if e.device != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.mgr.SetAudioDevice(ctx, e.device); err != nil {
			logger.Warn().Err(err).Str("device", e.device).Msg("Failed to select audio device")
		}
	}
	return nil
}

func (e *mpvEngine) Run(ctx context.Context) error { return e.mgr.Run(ctx) }

func (e *mpvEngine) Load(ctx context.Context, path string) (lyrics.Track, error) {
	track := trackFromTags(path)
	e.pos.Store(0)
	if err := e.mgr.Play(ctx, path, track.Title, true); err != nil {
		return lyrics.Track{}, err
	}
	return track, nil
}

func (e *mpvEngine) Pause()  { e.mgr.Pause() }
func (e *mpvEngine) Resume() { e.mgr.Resume() }
func (e *mpvEngine) Stop()   { e.mgr.Stop() }

func (e *mpvEngine) Seek(seconds float64) error {
	e.mgr.Seek(seconds)
	return nil
}

func (e *mpvEngine) Position() float64 { return e.pos.Load() }
func (e *mpvEngine) Playing() bool     { return e.playing.Load() }

func (e *mpvEngine) Close() {
	if err := e.bridge.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close mpv")
	}
}

// nativeEngine decodes in-process and plays through the shared audio context.
type nativeEngine struct {
	actx   *audio.Context
	sched  *audio.Scheduler
	worker *decoder.Worker
	player *audio.StreamPlayer
}

func newNativeEngine(cfg *config.Config, ev engineEvents) *nativeEngine {
	actx := audio.NewContext(cfg.Audio.SampleRate, cfg.Audio.BufferSize)
	opts := audio.SchedulerOptions{
		Interval: cfg.Audio.TickInterval,
		Horizon:  cfg.Audio.Horizon,
		NewWorker: func() (audio.TickWorker, error) {
			w, err := timing.New(timing.Options{Disabled: cfg.Audio.DisableWorker})
			if err != nil {
				return nil, err
			}
			return w, nil
		},
	}
	sched := audio.NewScheduler(actx, opts)
	worker := decoder.NewWorker(codec.NewRegistry(), decoder.WorkerOptions{
		ScratchDir: filepath.Join(cfg.App.CacheDir, "decoder"),
	})
	sp := audio.NewStreamPlayer(actx, sched, decoder.ForWorker(worker), audio.StreamOptions{
		ChunkSize: cfg.Audio.ChunkSize,
	})
	sp.SetOnEnded(func() {
		if ev.onPlaying != nil {
			ev.onPlaying(false)
		}
		if ev.onEnded != nil {
			ev.onEnded()
		}
	})
	return &nativeEngine{actx: actx, sched: sched, worker: worker, player: sp}
}

func (e *nativeEngine) Start() error {
	if err := e.actx.Open(); err != nil {
		return err
	}
	e.sched.Start()
	logger.Info().Str("clock", string(e.sched.ClockSource())).Msg("Audio scheduler started")
	return nil
}

func (e *nativeEngine) Run(ctx context.Context) error {
	go e.worker.Run(ctx)
	err := e.player.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (e *nativeEngine) Load(ctx context.Context, path string) (lyrics.Track, error) {
	file := decoder.File{Name: filepath.Base(path), Path: path}
	if err := e.player.Load(ctx, file); err != nil {
		return lyrics.Track{}, fmt.Errorf("failed to load %s: %w", path, err)
	}

	track := lyrics.Track{Path: path}
	if meta := e.player.Metadata(); meta != nil {
		track.Title = meta.Metadata["title"]
		track.Artist = meta.Metadata["artist"]
		track.Duration = meta.Duration
	}
	if track.Title == "" {
		track.MediaTitle = strings.TrimSuffix(file.Name, filepath.Ext(file.Name))
	}
	return track, nil
}

func (e *nativeEngine) Pause()                     { e.player.Pause() }
func (e *nativeEngine) Resume()                    { e.player.Resume() }
func (e *nativeEngine) Stop()                      { e.player.Stop() }
func (e *nativeEngine) Seek(seconds float64) error { return e.player.Seek(seconds) }
func (e *nativeEngine) Position() float64          { return e.player.CurrentTime() }

func (e *nativeEngine) Playing() bool {
	return e.player.Metadata() != nil && !e.player.Paused() && !e.player.Ended()
}

func (e *nativeEngine) Close() {
	e.sched.Stop()
	e.actx.Close()
}

// followEngine tracks an MPRIS player that this process does not own.
type followEngine struct {
	ctl      *player.Playerctl
	interval time.Duration
	ev       engineEvents

	mu      sync.Mutex
	current string
	playing bool
}

func newFollowEngine(cfg *config.Config, ev engineEvents) *followEngine {
	return &followEngine{
		ctl:      &player.Playerctl{Player: cfg.Follow.Player},
		interval: cfg.App.CheckInterval,
		ev:       ev,
	}
}

func (e *followEngine) Start() error { return nil }

// Run polls the followed player for song changes.
func (e *followEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *followEngine) poll(ctx context.Context) {
	song, err := e.ctl.CurrentSong(ctx)
	playing := err == nil && e.ctl.Playing(ctx)

	e.mu.Lock()
	changed := err == nil && song != e.current
	if changed {
		e.current = song
	}
	stateChanged := playing != e.playing
	e.playing = playing
	e.mu.Unlock()

	if changed && e.ev.onTrack != nil {
		logger.Info().Str("song", song).Msg("New song detected")
		e.ev.onTrack(lyrics.Track{MediaTitle: song})
	}
	if stateChanged && e.ev.onPlaying != nil {
		e.ev.onPlaying(playing)
	}
}

func (e *followEngine) Load(context.Context, string) (lyrics.Track, error) {
	return lyrics.Track{}, errFollowReadOnly
}

func (e *followEngine) control(args ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.ctl.Control(ctx, args...); err != nil {
		logger.Warn().Err(err).Msg("playerctl command failed")
	}
}

func (e *followEngine) Pause()  { e.control("pause") }
func (e *followEngine) Resume() { e.control("play") }
func (e *followEngine) Stop()   { e.control("stop") }

func (e *followEngine) Seek(seconds float64) error {
	e.control("position", strconv.FormatFloat(seconds, 'f', 3, 64))
	return nil
}

func (e *followEngine) Position() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return e.ctl.Position(ctx)
}

func (e *followEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *followEngine) Close() {}
