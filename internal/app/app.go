package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"player-backend/internal/config"
	"player-backend/internal/ipc"
	"player-backend/internal/lyrics"
	"player-backend/internal/player"
	"player-backend/internal/statusbar"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "app").Logger()

const (
	textSearching = "... Searching for lyrics for %s ..."
	textNoLyrics  = "♪ 暂无歌词 ♪"
	textIntro     = "♪ 即将开始... ♪"
	textFinished  = "♪ 歌曲结束 ♪"
)

// broadcaster is the outbound side of the IPC server.
type broadcaster interface {
	Broadcast(msg ipc.Message)
	BroadcastText(text string)
}

// notifier tells a status bar to refresh.
type notifier interface {
	Notify() error
}

type App struct {
	cfg       *config.Config
	ipcServer *ipc.Server
	out       broadcaster
	lyrics    *lyricStack
	lookup    func(ctx context.Context, track lyrics.Track) lyrics.Result
	engine    engine
	bar       notifier
	barRunner *statusbar.Notifier

	ctx   context.Context
	ready chan struct{}

	mutex        sync.Mutex
	currentSong  string
	lookupCancel context.CancelFunc
	queue        []string
	queueIndex   int
	modes        player.PlayModeController
	mode         player.PlayMode

	// 歌词调度器控制
	schedulerMutex  sync.Mutex
	schedulerCancel context.CancelFunc
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if lvl, err := zerolog.ParseLevel(level); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	stack, err := newLyricStack(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lyrics provider: %w", err)
	}

	a := &App{
		cfg:       cfg,
		ipcServer: ipc.NewServer(cfg.App.SocketPath),
		lyrics:    stack,
		lookup:    stack.provider.Lookup,
		mode:      player.ModeRepeat,
		ctx:       ctx,
		ready:     make(chan struct{}),
	}
	a.out = a.ipcServer
	a.ipcServer.SetMirrorFile(cfg.App.MirrorFile)
	a.ipcServer.OnCommand(a.handleCommand)

	a.engine, err = newEngine(cfg, engineEvents{
		onEnded:   a.trackEnded,
		onPlaying: a.playStateChanged,
		onTrack:   a.trackChanged,
	})
	if err != nil {
		stack.Close()
		return nil, err
	}

	if cfg.Statusbar.Enabled {
		a.barRunner = statusbar.NewNotifier(cfg.Statusbar.Program, cfg.Statusbar.Signal)
		a.bar = a.barRunner
	}
	return a, nil
}

// Run serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.ctx = ctx
	if err := os.MkdirAll(a.cfg.App.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	logger.Info().Str("cache_dir", a.cfg.App.CacheDir).Str("engine", a.cfg.App.Engine).Msg("Starting")

	if err := a.ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	defer a.ipcServer.Close()
	defer a.lyrics.Close()

	if err := a.engine.Start(); err != nil {
		return fmt.Errorf("failed to start %s engine: %w", a.cfg.App.Engine, err)
	}
	defer a.engine.Close()
	close(a.ready)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("task", name).Msg("Background task stopped")
			}
		}()
	}

	spawn("engine", a.engine.Run)
	if a.cfg.Lyrics.WatchLocal {
		spawn("lyric-watcher", a.lyrics.local.Watch)
	}
	if a.barRunner != nil {
		spawn("statusbar", func(ctx context.Context) error {
			a.barRunner.Run(ctx)
			return nil
		})
	}

	a.out.BroadcastText("No music playing...")
	<-ctx.Done()
	a.stopLyricScheduler()
	wg.Wait()
	return nil
}

// Ready is closed once Run has started the engine.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Play replaces the queue with paths and starts the first one.
func (a *App) Play(paths ...string) error {
	if len(paths) == 0 {
		return errors.New("nothing to play")
	}
	a.mutex.Lock()
	a.queue = append([]string(nil), paths...)
	a.queueIndex = 0
	a.mutex.Unlock()
	return a.playIndex(0)
}

func (a *App) playIndex(i int) error {
	a.mutex.Lock()
	if i < 0 || i >= len(a.queue) {
		a.mutex.Unlock()
		return fmt.Errorf("queue index %d out of range", i)
	}
	a.queueIndex = i
	path := a.queue[i]
	a.mutex.Unlock()

	track, err := a.engine.Load(a.ctx, path)
	if err != nil {
		a.out.BroadcastText(fmt.Sprintf("Error playing %s: %v", path, err))
		return err
	}
	a.trackChanged(track)
	return nil
}

// nextIndex picks the track after the current one for the play mode.
func (a *App) nextIndex() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	n := len(a.queue)
	switch {
	case n == 0:
		return -1
	case a.mode == player.ModeRepeatOnce:
		return a.queueIndex
	case a.mode == player.ModeShuffle && n > 1:
		next := rand.IntN(n - 1)
		if next >= a.queueIndex {
			next++
		}
		return next
	default:
		return (a.queueIndex + 1) % n
	}
}

func (a *App) trackEnded() {
	next := a.nextIndex()
	if next < 0 {
		return
	}
	go func() {
		if err := a.playIndex(next); err != nil {
			logger.Error().Err(err).Msg("Failed to advance queue")
		}
	}()
}

func (a *App) playStateChanged(playing bool) {
	a.mutex.Lock()
	mode := a.mode
	a.mutex.Unlock()

	a.out.Broadcast(ipc.Message{
		Type:     ipc.TypePlayback,
		Playing:  &playing,
		Position: a.engine.Position(),
		Mode:     string(mode),
	})
}

func trackName(t lyrics.Track) string {
	switch {
	case t.Title != "" && t.Artist != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	case t.MediaTitle != "":
		return t.MediaTitle
	default:
		return t.Path
	}
}

// trackChanged starts a lyric lookup for track, cancelling any lookup for
// the previous one.
func (a *App) trackChanged(track lyrics.Track) {
	name := trackName(track)

	a.mutex.Lock()
	if a.lookupCancel != nil {
		a.lookupCancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.lookupCancel = cancel
	a.currentSong = name
	a.mutex.Unlock()

	logger.Info().Msg("-----------------------------------------------------")
	logger.Info().Str("song", name).Msg("New song detected")

	a.stopLyricScheduler()
	a.out.BroadcastText(fmt.Sprintf(textSearching, name))

	go func() {
		defer cancel()
		res := a.lookup(ctx, track)
		a.applyResult(name, res)
	}()
}

func (a *App) applyResult(song string, res lyrics.Result) {
	a.mutex.Lock()
	current := a.currentSong
	a.mutex.Unlock()
	if current != song {
		return
	}

	switch res.Status {
	case lyrics.StatusFound:
		a.out.Broadcast(ipc.Message{
			Type:   ipc.TypeLyrics,
			Lines:  res.Lines,
			Format: string(res.Format),
			Source: res.Source,
		})
		a.startLyricScheduler(res.Lines)
	case lyrics.StatusNotFound:
		a.out.BroadcastText(textNoLyrics)
	case lyrics.StatusFailed:
		if errors.Is(res.Err, lyrics.ErrStale) || errors.Is(res.Err, context.Canceled) {
			return
		}
		logger.Error().Err(res.Err).Msg("Failed to get lyrics")
		a.out.BroadcastText(fmt.Sprintf("Error getting lyrics: %v", res.Err))
	}
}

func (a *App) stopLyricScheduler() {
	a.schedulerMutex.Lock()
	defer a.schedulerMutex.Unlock()
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
}

func (a *App) startLyricScheduler(lines []lyrics.Line) {
	a.schedulerMutex.Lock()
	defer a.schedulerMutex.Unlock()

	// 停止之前的歌词调度器（如果有）
	if a.schedulerCancel != nil {
		logger.Debug().Msg("Stopping previous lyric scheduler")
		a.schedulerCancel()
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.schedulerCancel = cancel

	logger.Info().Int("lines_count", len(lines)).Msg("Starting lyric scheduler")
	go a.syncLyrics(ctx, lines)
}

// syncLyrics broadcasts the active line whenever it changes. The position is
// re-read every tick so seeks are followed without drift.
func (a *App) syncLyrics(ctx context.Context, lines []lyrics.Line) {
	if len(lines) == 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.App.SyncInterval)
	defer ticker.Stop()

	lead := a.cfg.App.LyricLead.Seconds()
	lastIndex := -2 // 确保第一次广播
	finished := false

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Lyric scheduler cancelled")
			return
		case <-ticker.C:
		}

		current := a.engine.Position()
		if current < 0 {
			continue
		}
		ms := (current + lead) * 1000
		index := lyrics.IndexAt(lines, ms)

		if index != lastIndex {
			switch {
			case index >= 0:
				line := lines[index]
				logger.Debug().
					Int("index", index).
					Float64("player_time", current).
					Float64("lyric_time", line.StartTime/1000).
					Str("lyric", line.Text()).
					Msg("Broadcasting lyric")
				a.out.Broadcast(ipc.Message{Type: ipc.TypeLyric, Index: index, Text: line.Text(), Line: &line})
			case lastIndex != -1:
				a.out.BroadcastText(textIntro)
			}
			lastIndex = index
			finished = false
			a.notifyBar()
		}

		if last := lines[len(lines)-1]; !finished && ms > last.EndTime+5000 {
			finished = true
			a.out.BroadcastText(textFinished)
			a.notifyBar()
		}
	}
}

func (a *App) notifyBar() {
	if a.bar == nil {
		return
	}
	if err := a.bar.Notify(); err != nil {
		logger.Debug().Err(err).Msg("Status bar refresh failed")
	}
}

// handleCommand executes one IPC client command.
func (a *App) handleCommand(cmd ipc.Command) error {
	switch cmd.Name {
	case "play":
		if cmd.Arg == "" {
			a.engine.Resume()
			return nil
		}
		return a.Play(strings.Split(cmd.Arg, "\n")...)
	case "enqueue":
		if cmd.Arg == "" {
			return errors.New("enqueue needs a path")
		}
		a.mutex.Lock()
		a.queue = append(a.queue, cmd.Arg)
		a.mutex.Unlock()
		return nil
	case "next":
		next := a.nextIndex()
		if next < 0 {
			return errors.New("queue is empty")
		}
		return a.playIndex(next)
	case "pause":
		a.engine.Pause()
	case "resume":
		a.engine.Resume()
	case "toggle":
		if a.engine.Playing() {
			a.engine.Pause()
		} else {
			a.engine.Resume()
		}
	case "stop":
		a.engine.Stop()
		a.stopLyricScheduler()
	case "seek":
		seconds, err := strconv.ParseFloat(cmd.Arg, 64)
		if err != nil || seconds < 0 {
			return fmt.Errorf("invalid seek position %q", cmd.Arg)
		}
		return a.engine.Seek(seconds)
	case "shuffle", "repeat", "mode":
		return a.changeMode(cmd)
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
	return nil
}

func (a *App) changeMode(cmd ipc.Command) error {
	a.mutex.Lock()
	switch cmd.Name {
	case "shuffle":
		a.mode = a.modes.NextShuffleMode(a.mode)
	case "repeat":
		a.mode = a.modes.NextRepeatMode(a.mode)
	default:
		m, err := player.ParsePlayMode(cmd.Arg)
		if err != nil {
			a.mutex.Unlock()
			return err
		}
		a.mode = m
	}
	mode := a.mode
	a.mutex.Unlock()

	logger.Info().Str("mode", string(mode)).Msg("Play mode changed")
	playing := a.engine.Playing()
	a.out.Broadcast(ipc.Message{Type: ipc.TypePlayback, Playing: &playing, Position: a.engine.Position(), Mode: string(mode)})
	return nil
}
