package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"player-backend/internal/config"
	"player-backend/internal/ipc"
	"player-backend/internal/lyrics"
	"player-backend/internal/player"
)

type fakeEngine struct {
	mu      sync.Mutex
	pos     float64
	playing bool
	loaded  []string
	seeks   []float64
	calls   []string
	loadErr error
}

func (f *fakeEngine) Start() error                { return nil }
func (f *fakeEngine) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeEngine) Load(_ context.Context, path string) (lyrics.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return lyrics.Track{}, f.loadErr
	}
	f.loaded = append(f.loaded, path)
	return lyrics.Track{Path: path, Title: path}, nil
}
func (f *fakeEngine) record(c string) { f.mu.Lock(); f.calls = append(f.calls, c); f.mu.Unlock() }
func (f *fakeEngine) Pause()          { f.record("pause") }
func (f *fakeEngine) Resume()         { f.record("resume") }
func (f *fakeEngine) Stop()           { f.record("stop") }
func (f *fakeEngine) Seek(s float64) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, s)
	f.mu.Unlock()
	return nil
}
func (f *fakeEngine) setPos(p float64) { f.mu.Lock(); f.pos = p; f.mu.Unlock() }
func (f *fakeEngine) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}
func (f *fakeEngine) Playing() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.playing }
func (f *fakeEngine) Close()        {}

type recorder struct {
	mu   sync.Mutex
	msgs []ipc.Message
}

func (r *recorder) Broadcast(msg ipc.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) BroadcastText(text string) {
	r.Broadcast(ipc.Message{Type: ipc.TypeStatus, Text: text})
}

func (r *recorder) waitFor(t *testing.T, match func(ipc.Message) bool) ipc.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, m := range r.msgs {
			if match(m) {
				r.mu.Unlock()
				return m
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected message not broadcast")
	return ipc.Message{}
}

func newTestApp(t *testing.T, lookup func(context.Context, lyrics.Track) lyrics.Result) (*App, *fakeEngine, *recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Defaults()
	cfg.App.SyncInterval = 5 * time.Millisecond
	cfg.App.LyricLead = 0

	eng := &fakeEngine{}
	rec := &recorder{}
	a := &App{
		cfg:    cfg,
		out:    rec,
		lookup: lookup,
		engine: eng,
		mode:   player.ModeRepeat,
		ctx:    ctx,
	}
	return a, eng, rec
}

func timeline() []lyrics.Line {
	_, lines := lyrics.ParseSmartLrc("[00:01.00]one\n[00:02.00]two\n[00:03.00]three\n")
	return lines
}

func TestPlayLooksUpAndSyncsLyrics(t *testing.T) {
	a, eng, rec := newTestApp(t, func(context.Context, lyrics.Track) lyrics.Result {
		return lyrics.Result{Status: lyrics.StatusFound, Source: "local", Format: lyrics.FormatLine, Lines: timeline()}
	})

	if err := a.Play("/music/a.flac"); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	rec.waitFor(t, func(m ipc.Message) bool { return m.Type == ipc.TypeLyrics && len(m.Lines) == 3 })

	eng.setPos(0.5)
	rec.waitFor(t, func(m ipc.Message) bool { return m.Type == ipc.TypeStatus && m.Text == textIntro })

	eng.setPos(2.2)
	msg := rec.waitFor(t, func(m ipc.Message) bool { return m.Type == ipc.TypeLyric && m.Text == "two" })
	if msg.Index != 1 || msg.Line == nil || msg.Line.StartTime != 2000 {
		t.Fatalf("unexpected lyric message %+v", msg)
	}

	// Seeking backwards is followed.
	eng.setPos(1.1)
	rec.waitFor(t, func(m ipc.Message) bool { return m.Type == ipc.TypeLyric && m.Text == "one" })

	eng.setPos(10)
	rec.waitFor(t, func(m ipc.Message) bool { return m.Text == textFinished })
	a.stopLyricScheduler()
}

func TestLookupOutcomes(t *testing.T) {
	tests := []struct {
		name string
		res  lyrics.Result
		want string
	}{
		{"not found", lyrics.Result{Status: lyrics.StatusNotFound}, textNoLyrics},
		{"failed", lyrics.Result{Status: lyrics.StatusFailed, Err: errors.New("timeout")}, "Error getting lyrics: timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, rec := newTestApp(t, func(context.Context, lyrics.Track) lyrics.Result { return tt.res })
			a.trackChanged(lyrics.Track{MediaTitle: "Artist - Song"})
			rec.waitFor(t, func(m ipc.Message) bool { return m.Text == tt.want })
		})
	}
}

func TestStaleResultIgnored(t *testing.T) {
	a, _, rec := newTestApp(t, nil)
	a.currentSong = "new"
	a.applyResult("old", lyrics.Result{Status: lyrics.StatusNotFound})
	if len(rec.msgs) != 0 {
		t.Fatalf("result for a previous song must be dropped, got %+v", rec.msgs)
	}
}

func TestHandleCommand(t *testing.T) {
	a, eng, rec := newTestApp(t, func(context.Context, lyrics.Track) lyrics.Result {
		return lyrics.Result{Status: lyrics.StatusNotFound}
	})

	if err := a.handleCommand(ipc.Command{Name: "seek", Arg: "42.5"}); err != nil {
		t.Fatal(err)
	}
	if len(eng.seeks) != 1 || eng.seeks[0] != 42.5 {
		t.Fatalf("unexpected seeks %v", eng.seeks)
	}
	if err := a.handleCommand(ipc.Command{Name: "seek", Arg: "abc"}); err == nil {
		t.Fatal("expected invalid seek error")
	}

	a.handleCommand(ipc.Command{Name: "toggle"})
	if eng.calls[len(eng.calls)-1] != "resume" {
		t.Fatalf("toggle while stopped should resume, got %v", eng.calls)
	}

	a.handleCommand(ipc.Command{Name: "shuffle"})
	if a.mode != player.ModeShuffle {
		t.Fatalf("expected shuffle, got %s", a.mode)
	}
	a.handleCommand(ipc.Command{Name: "shuffle"})
	if a.mode != player.ModeRepeat {
		t.Fatalf("expected repeat restored, got %s", a.mode)
	}
	msg := rec.waitFor(t, func(m ipc.Message) bool { return m.Type == ipc.TypePlayback && m.Mode == string(player.ModeShuffle) })
	if msg.Playing == nil {
		t.Fatal("playback message must carry the play state")
	}

	if err := a.handleCommand(ipc.Command{Name: "mode", Arg: "loop"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
	if err := a.handleCommand(ipc.Command{Name: "dance"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestQueueAdvance(t *testing.T) {
	a, eng, _ := newTestApp(t, func(context.Context, lyrics.Track) lyrics.Result {
		return lyrics.Result{Status: lyrics.StatusNotFound}
	})
	a.Play("a", "b", "c")

	tests := []struct {
		mode player.PlayMode
		from int
		want int
	}{
		{player.ModeRepeat, 0, 1},
		{player.ModeRepeat, 2, 0},
		{player.ModeRepeatOnce, 1, 1},
	}
	for _, tt := range tests {
		a.mode, a.queueIndex = tt.mode, tt.from
		if got := a.nextIndex(); got != tt.want {
			t.Errorf("%s from %d: got %d, want %d", tt.mode, tt.from, got, tt.want)
		}
	}

	a.mode, a.queueIndex = player.ModeShuffle, 1
	for range 20 {
		if got := a.nextIndex(); got == 1 || got < 0 || got > 2 {
			t.Fatalf("shuffle picked %d", got)
		}
	}

	eng.loadErr = errors.New("missing file")
	if err := a.handleCommand(ipc.Command{Name: "next"}); err == nil {
		t.Fatal("expected load error surfaced")
	}
}
