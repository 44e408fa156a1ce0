package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/dexterlb/mpvipc"
	"github.com/google/uuid"
)

const (
	observeTimePos = iota + 1
	observePause
	observeDuration
	observeVolume
)

var errBridgeClosed = errors.New("mpv bridge is not running")

// BridgeOptions configures the mpv process.
type BridgeOptions struct {
	Executable string
	SocketDir  string
	ExtraArgs  []string
}

// Bridge drives an mpv process over its JSON IPC socket and implements
// NativePlayer.
type Bridge struct {
	opts       BridgeOptions
	socketPath string

	mu     sync.Mutex
	cmd    *exec.Cmd
	conn   *mpvipc.Connection
	events chan Event
	stop   chan struct{}
}

// NewBridge prepares a bridge with a fresh socket path. Call Start to launch mpv.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Executable == "" {
		opts.Executable = "mpv"
	}
	if opts.SocketDir == "" {
		opts.SocketDir = os.TempDir()
	}
	return &Bridge{
		opts:       opts,
		socketPath: filepath.Join(opts.SocketDir, "player-mpv-"+uuid.NewString()+".sock"),
		events:     make(chan Event, 64),
	}
}

// Start launches mpv and subscribes to the observed properties.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	args := append([]string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--input-ipc-server=" + b.socketPath,
	}, b.opts.ExtraArgs...)

	b.cmd = exec.Command(b.opts.Executable, args...)
	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start mpv: %w", err)
	}
	logger.Info().Int("pid", b.cmd.Process.Pid).Str("socket", b.socketPath).Msg("mpv started")

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(b.socketPath); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	conn := mpvipc.NewConnection(b.socketPath)
	if err := conn.Open(); err != nil {
		b.cmd.Process.Kill()
		return fmt.Errorf("failed to connect to mpv IPC: %w", err)
	}
	b.conn = conn

	for id, prop := range map[int]string{
		observeTimePos:  "time-pos",
		observePause:    "pause",
		observeDuration: "duration",
		observeVolume:   "volume",
	} {
		if _, err := conn.Call("observe_property", id, prop); err != nil {
			logger.Warn().Err(err).Str("property", prop).Msg("Failed to observe mpv property")
		}
	}

	b.stop = make(chan struct{})
	go b.listen(conn, b.stop)
	return nil
}

// Close quits mpv and removes the socket.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	close(b.stop)
	b.conn.Call("quit")
	b.conn.Close()
	b.conn = nil

	if b.cmd != nil && b.cmd.Process != nil {
		done := make(chan struct{})
		go func() {
			b.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			b.cmd.Process.Kill()
		}
	}
	os.Remove(b.socketPath)
	return nil
}

func (b *Bridge) Events() <-chan Event {
	return b.events
}

func (b *Bridge) connection() (*mpvipc.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, errBridgeClosed
	}
	return b.conn, nil
}

func (b *Bridge) Play(ctx context.Context, url, title string, autoPlay bool) (Result, error) {
	conn, err := b.connection()
	if err != nil {
		return Result{}, err
	}
	if title != "" {
		if err := conn.Set("force-media-title", title); err != nil {
			logger.Warn().Err(err).Msg("Failed to set media title")
		}
	}
	// Loading into a paused player keeps the first frames silent until the
	// manager decides.
	if err := conn.Set("pause", !autoPlay); err != nil {
		logger.Warn().Err(err).Msg("Failed to set pause before load")
	}
	if _, err := conn.Call("loadfile", url, "replace"); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true}, ctx.Err()
}

func (b *Bridge) Pause() error  { return b.set("pause", true) }
func (b *Bridge) Resume() error { return b.set("pause", false) }

func (b *Bridge) Stop() error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	_, err = conn.Call("stop")
	return err
}

func (b *Bridge) Seek(seconds float64) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	_, err = conn.Call("seek", seconds, "absolute")
	return err
}

func (b *Bridge) SetVolume(percent float64) error { return b.set("volume", percent) }
func (b *Bridge) SetRate(rate float64) error      { return b.set("speed", rate) }

func (b *Bridge) SetAudioDevice(ctx context.Context, id string) (Result, error) {
	if err := b.set("audio-device", id); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true}, ctx.Err()
}

func (b *Bridge) set(prop string, value interface{}) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.Set(prop, value)
}

func (b *Bridge) listen(conn *mpvipc.Connection, stop chan struct{}) {
	events, stopListening := conn.NewEventListener()
	defer close(stopListening)

	for {
		select {
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if ev := translate(event); ev != nil {
				select {
				case b.events <- ev:
				case <-stop:
					return
				}
			}
		}
	}
}

// translate maps a raw mpv event onto an Event. Unknown events and
// properties without a value map to nil.
func translate(event *mpvipc.Event) Event {
	switch event.Name {
	case "property-change":
		switch event.ID {
		case observeTimePos:
			if v, ok := event.Data.(float64); ok {
				return TimePosChanged{Seconds: v}
			}
		case observePause:
			if v, ok := event.Data.(bool); ok {
				return PauseChanged{Paused: v}
			}
		case observeDuration:
			if v, ok := event.Data.(float64); ok {
				return DurationChanged{Seconds: v}
			}
		case observeVolume:
			if v, ok := event.Data.(float64); ok {
				return VolumeChanged{Percent: v}
			}
		}
	case "file-loaded":
		return FileLoaded{}
	case "playback-restart":
		return PlaybackRestart{}
	case "end-file":
		return Ended{Reason: endReason(event.Reason)}
	}
	return nil
}

// endReason maps an empty end-file reason to "unknown".
func endReason(reason string) string {
	if reason == "" {
		return "unknown"
	}
	return reason
}
