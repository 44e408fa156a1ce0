package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"player-backend/internal/decoder"
)

// scriptedDecoder answers requests the way the worker would, synchronously.
type scriptedDecoder struct {
	mu       sync.Mutex
	ch       chan decoder.Response
	nextID   int64
	latest   int64
	pauses   int
	resumes  int
	initErr  string
	chunks   int
	frames   int
	rate     int
	duration float64

	// limit > 0 emits at most limit chunks and no EOF, like a worker that
	// was paused mid-stream.
	limit int
}

func newScriptedDecoder(chunks, frames, rate int) *scriptedDecoder {
	return &scriptedDecoder{
		ch:       make(chan decoder.Response, 64),
		chunks:   chunks,
		frames:   frames,
		rate:     rate,
		duration: float64(chunks*frames) / float64(rate),
	}
}

func (d *scriptedDecoder) emitFrom(id int64, start float64) {
	for i := 0; i < d.chunks; i++ {
		if d.limit > 0 && i == d.limit {
			return
		}
		t := start + float64(i*d.frames)/float64(d.rate)
		if t >= d.duration {
			break
		}
		d.ch <- decoder.ChunkResponse{ID: id, Data: make([]float32, d.frames), Frames: d.frames, Time: t}
	}
	d.ch <- decoder.EOFResponse{ID: id}
}

func (d *scriptedDecoder) Init(file decoder.File, chunkSize int) int64 {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.latest = id
	d.mu.Unlock()

	if d.initErr != "" {
		d.ch <- decoder.ErrorResponse{ID: id, Error: d.initErr}
		return id
	}
	d.ch <- decoder.MetadataResponse{ID: id, SampleRate: d.rate, Channels: 1, Duration: d.duration}
	d.emitFrom(id, 0)
	return id
}

func (d *scriptedDecoder) Seek(seconds float64) int64 {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.latest = id
	d.mu.Unlock()

	d.ch <- decoder.SeekDoneResponse{ID: id, Time: seconds}
	d.emitFrom(id, seconds)
	return id
}

func (d *scriptedDecoder) Pause() {
	d.mu.Lock()
	d.pauses++
	d.mu.Unlock()
}

func (d *scriptedDecoder) Resume() {
	d.mu.Lock()
	d.resumes++
	d.mu.Unlock()
}

func (d *scriptedDecoder) Next(ctx context.Context) (decoder.Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-d.ch:
			d.mu.Lock()
			stale := r.ResponseID() != d.latest
			d.mu.Unlock()
			if !stale {
				return r, nil
			}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newStreamFixture(t *testing.T, dec *scriptedDecoder, opts StreamOptions) (*Context, *Scheduler, *StreamPlayer) {
	t.Helper()
	actx := NewContext(1000, 0)
	sched := newTestScheduler(actx)
	p := NewStreamPlayer(actx, sched, dec, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return actx, sched, p
}

func TestStreamPlayerPlaysToEnd(t *testing.T) {
	dec := newScriptedDecoder(3, 100, 1000)
	actx, sched, p := newStreamFixture(t, dec, StreamOptions{})

	ended := make(chan struct{})
	p.SetOnEnded(func() { close(ended) })

	if err := p.Load(context.Background(), decoder.File{Name: "a.mp3"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if p.Duration() != 0.3 {
		t.Fatalf("unexpected duration %v", p.Duration())
	}

	waitFor(t, "chunks scheduled", func() bool { return sched.Pending() == 3 })
	sched.Tick()
	if actx.ActiveSources() != 3 {
		t.Fatalf("expected 3 sources, got %d", actx.ActiveSources())
	}

	render(actx, 150)
	if got := p.CurrentTime(); math.Abs(got-0.15) > 1e-9 {
		t.Fatalf("expected media time 0.15, got %v", got)
	}

	render(actx, 200)
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("end of track not reported")
	}
	if !p.Ended() {
		t.Fatal("Ended() should be true")
	}
}

func TestStreamPlayerSeekClearsQueuedChunks(t *testing.T) {
	dec := newScriptedDecoder(10, 100, 1000)
	actx, sched, p := newStreamFixture(t, dec, StreamOptions{})

	if err := p.Load(context.Background(), decoder.File{Name: "a.mp3"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	waitFor(t, "initial chunks", func() bool { return sched.Pending() == 10 })

	render(actx, 40)
	if err := p.Seek(0.5); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if got := p.CurrentTime(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected position at seek target, got %v", got)
	}

	waitFor(t, "post-seek chunks", func() bool { return sched.Pending() == 5 })
	sched.Tick()
	render(actx, 100)

	if got := p.CurrentTime(); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected media time 0.6 after seek, got %v", got)
	}
}

func TestStreamPlayerPauseResume(t *testing.T) {
	dec := newScriptedDecoder(10, 100, 1000)
	actx, sched, p := newStreamFixture(t, dec, StreamOptions{})

	if err := p.Load(context.Background(), decoder.File{Name: "a.mp3"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	waitFor(t, "chunks", func() bool { return sched.Pending() == 10 })
	sched.Tick()
	render(actx, 250)

	p.Pause()
	if !p.Paused() {
		t.Fatal("expected paused")
	}
	at := p.CurrentTime()
	if math.Abs(at-0.25) > 1e-9 {
		t.Fatalf("expected pause at 0.25, got %v", at)
	}
	render(actx, 500)
	if actx.ActiveSources() != 0 {
		t.Fatalf("sources still playing while paused: %d", actx.ActiveSources())
	}
	if p.CurrentTime() != at {
		t.Fatal("position moved while paused")
	}

	p.Resume()
	waitFor(t, "resumed chunks", func() bool { return sched.Pending() > 0 })
	if p.Paused() {
		t.Fatal("expected playing after resume")
	}
}

func TestStreamPlayerHighWaterPausesDecoder(t *testing.T) {
	dec := newScriptedDecoder(10, 100, 1000)
	dec.limit = 5
	actx, sched, p := newStreamFixture(t, dec, StreamOptions{HighWater: 0.35, LowWater: 0.2})

	if err := p.Load(context.Background(), decoder.File{Name: "a.mp3"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	waitFor(t, "chunks", func() bool { return sched.Pending() == 5 })

	dec.mu.Lock()
	pauses := dec.pauses
	dec.mu.Unlock()
	if pauses != 1 {
		t.Fatalf("expected exactly one decoder pause, got %d", pauses)
	}

	sched.Tick()
	for i := 0; i < 5; i++ {
		render(actx, 100)
	}

	dec.mu.Lock()
	resumes := dec.resumes
	dec.mu.Unlock()
	if resumes != 1 {
		t.Fatalf("expected decoder resumed below low water, got %d", resumes)
	}
}

func TestStreamPlayerLoadError(t *testing.T) {
	dec := newScriptedDecoder(1, 1, 1000)
	dec.initErr = "no audio stream"
	_, _, p := newStreamFixture(t, dec, StreamOptions{})

	err := p.Load(context.Background(), decoder.File{Name: "cover.jpg"})
	if err == nil || err.Error() != "no audio stream" {
		t.Fatalf("expected decoder error, got %v", err)
	}
	if err := p.Seek(1); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}
