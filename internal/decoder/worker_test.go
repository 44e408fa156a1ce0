package decoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"player-backend/pkg/codec"
)

// fakeStream yields mono chunks at 1000 Hz. total < 0 means endless.
type fakeStream struct {
	pos     int
	total   int
	seekErr error
	readErr error
	closed  *bool
}

func (f *fakeStream) Properties() codec.Properties {
	return codec.Properties{
		SampleRate:    1000,
		Channels:      1,
		Duration:      float64(f.total) / 1000,
		BitsPerSample: 16,
		Encoding:      "fake",
		Metadata:      map[string]string{"title": "Test"},
	}
}

func (f *fakeStream) ReadChunk(frames int) (codec.Chunk, error) {
	if f.readErr != nil {
		return codec.Chunk{}, f.readErr
	}
	n := frames
	if f.total >= 0 && f.pos+n > f.total {
		n = f.total - f.pos
	}
	c := codec.Chunk{
		Samples: make([]float32, n),
		Frames:  n,
		Time:    float64(f.pos) / 1000,
	}
	f.pos += n
	c.EOF = f.total >= 0 && f.pos >= f.total
	return c, nil
}

func (f *fakeStream) Seek(seconds float64) error {
	if f.seekErr != nil {
		return f.seekErr
	}
	f.pos = int(seconds * 1000)
	return nil
}

func (f *fakeStream) Close() error {
	if f.closed != nil {
		*f.closed = true
	}
	return nil
}

type fakeDecoder struct {
	newStream func() *fakeStream
	openErr   error
	opened    chan string
}

func (d *fakeDecoder) Open(path string) (codec.Stream, error) {
	if d.opened != nil {
		d.opened <- path
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.newStream(), nil
}

func audioFile(t *testing.T) File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.flac")
	if err := os.WriteFile(path, []byte("not really flac"), 0o644); err != nil {
		t.Fatal(err)
	}
	return File{Name: "song.flac", Path: path}
}

func startWorker(t *testing.T, dec codec.Decoder) (*Worker, *Client, context.CancelFunc, chan struct{}) {
	t.Helper()
	w := NewWorker(dec, WorkerOptions{ScratchDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(exited)
	}()
	return w, ForWorker(w), cancel, exited
}

func next(t *testing.T, c *Client) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("no response: %v", err)
	}
	return resp
}

func TestWorkerDecodesToEOF(t *testing.T) {
	dec := &fakeDecoder{newStream: func() *fakeStream { return &fakeStream{total: 2500} }}
	w, c, cancel, exited := startWorker(t, dec)

	id := c.Init(audioFile(t), 1000)

	meta, ok := next(t, c).(MetadataResponse)
	if !ok {
		t.Fatal("expected METADATA first")
	}
	if meta.ID != id || meta.SampleRate != 1000 || meta.Channels != 1 || meta.Metadata["title"] != "Test" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	var frames []int
	var times []float64
	for {
		switch r := next(t, c).(type) {
		case ChunkResponse:
			frames = append(frames, r.Frames)
			times = append(times, r.Time)
			continue
		case EOFResponse:
			if r.ID != id {
				t.Fatalf("EOF tagged %d, want %d", r.ID, id)
			}
		default:
			t.Fatalf("unexpected response %s", r.Type())
		}
		break
	}

	if len(frames) != 3 || frames[0] != 1000 || frames[2] != 500 {
		t.Fatalf("unexpected chunk sizes %v", frames)
	}
	if times[1] != 1 || times[2] != 2 {
		t.Fatalf("unexpected chunk times %v", times)
	}

	cancel()
	<-exited
	if _, err := os.Stat(w.root); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed on exit, stat err=%v", err)
	}
}

func TestSeekDiscardsStaleChunks(t *testing.T) {
	dec := &fakeDecoder{newStream: func() *fakeStream { return &fakeStream{total: -1} }}
	_, c, cancel, exited := startWorker(t, dec)
	defer func() {
		cancel()
		<-exited
	}()

	initID := c.Init(audioFile(t), 100)
	if _, ok := next(t, c).(MetadataResponse); !ok {
		t.Fatal("expected METADATA")
	}
	if r, ok := next(t, c).(ChunkResponse); !ok || r.ID != initID {
		t.Fatal("expected a chunk from the initial session")
	}

	seekID := c.Seek(30)

	done, ok := next(t, c).(SeekDoneResponse)
	if !ok {
		t.Fatal("expected SEEK_DONE before any further chunk")
	}
	if done.ID != seekID || done.Time != 30 {
		t.Fatalf("unexpected SEEK_DONE %+v", done)
	}

	for i := 0; i < 5; i++ {
		r, ok := next(t, c).(ChunkResponse)
		if !ok {
			t.Fatal("expected chunk after seek")
		}
		if r.ID != seekID {
			t.Fatalf("stale chunk delivered: id=%d", r.ID)
		}
		if r.Time < 30 {
			t.Fatalf("chunk from before the seek point delivered: %v", r.Time)
		}
	}
}

func TestPauseRequiresMatchingID(t *testing.T) {
	dec := &fakeDecoder{newStream: func() *fakeStream { return &fakeStream{total: -1} }}
	w, c, cancel, exited := startWorker(t, dec)
	defer func() {
		cancel()
		<-exited
	}()

	id := c.Init(audioFile(t), 10)
	next(t, c)

	// A pause for another id must not stop production.
	w.Post(PauseRequest{ID: id + 100})
	for i := 0; i < 3; i++ {
		if _, ok := next(t, c).(ChunkResponse); !ok {
			t.Fatal("expected production to continue")
		}
	}

	c.Pause()
	drain(c, 50*time.Millisecond)

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if resp, err := c.Next(ctx); err == nil {
		t.Fatalf("received %s while paused", resp.Type())
	}

	c.Resume()
	if _, ok := next(t, c).(ChunkResponse); !ok {
		t.Fatal("expected chunk after resume")
	}
}

func drain(c *Client, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	for {
		if _, err := c.Next(ctx); err != nil {
			return
		}
	}
}

func TestInitFailures(t *testing.T) {
	dec := &fakeDecoder{openErr: errors.New("unsupported container")}
	_, c, cancel, exited := startWorker(t, dec)
	defer func() {
		cancel()
		<-exited
	}()

	id := c.Init(audioFile(t), 10)
	r, ok := next(t, c).(ErrorResponse)
	if !ok || r.ID != id {
		t.Fatalf("expected ERROR for id %d", id)
	}

	id = c.Init(File{Name: "missing.mp3", Path: "/does/not/exist.mp3"}, 10)
	r, ok = next(t, c).(ErrorResponse)
	if !ok || r.ID != id {
		t.Fatalf("expected ERROR for unmountable file")
	}
}

func TestSeekFailureTearsDown(t *testing.T) {
	closed := false
	dec := &fakeDecoder{newStream: func() *fakeStream {
		return &fakeStream{total: -1, seekErr: errors.New("not seekable"), closed: &closed}
	}}
	w, c, cancel, exited := startWorker(t, dec)

	c.Init(audioFile(t), 10)
	next(t, c)

	seekID := c.Seek(3)
	for {
		resp := next(t, c)
		if e, ok := resp.(ErrorResponse); ok {
			if e.ID != seekID {
				t.Fatalf("ERROR tagged %d, want %d", e.ID, seekID)
			}
			break
		}
	}

	// Session is gone: resume has nothing to act on.
	c.Resume()
	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if resp, err := c.Next(ctx); err == nil {
		t.Fatalf("unexpected %s after teardown", resp.Type())
	}

	cancel()
	<-exited
	if !closed {
		t.Fatal("stream should be closed on teardown")
	}
	entries, _ := os.ReadDir(filepath.Dir(w.root))
	for _, e := range entries {
		if e.Name() == filepath.Base(w.root) {
			t.Fatal("scratch dir left behind")
		}
	}
}

func TestReInitClosesPrevious(t *testing.T) {
	closed := false
	first := true
	dec := &fakeDecoder{newStream: func() *fakeStream {
		if first {
			first = false
			return &fakeStream{total: -1, closed: &closed}
		}
		return &fakeStream{total: 10}
	}}
	_, c, cancel, exited := startWorker(t, dec)
	defer func() {
		cancel()
		<-exited
	}()

	c.Init(audioFile(t), 5)
	next(t, c)

	id := c.Init(audioFile(t), 5)
	meta, ok := next(t, c).(MetadataResponse)
	if !ok || meta.ID != id {
		t.Fatal("expected METADATA for the new session")
	}
	if !closed {
		t.Fatal("previous stream not closed on re-init")
	}
}

func TestClientStaleFiltering(t *testing.T) {
	ch := make(chan Response, 8)
	var posted []Request
	c := NewClient(posterFunc(func(r Request) { posted = append(posted, r) }), ch)

	initID := c.Init(File{Name: "a"}, 10)
	seekID := c.Seek(12)
	if seekID <= initID {
		t.Fatalf("ids must increase: init=%d seek=%d", initID, seekID)
	}

	ch <- ChunkResponse{ID: initID, Time: 0}
	ch <- ChunkResponse{ID: initID, Time: 0.01}
	ch <- SeekDoneResponse{ID: seekID, Time: 12}
	ch <- ChunkResponse{ID: seekID, Time: 12}

	if r, ok := next(t, c).(SeekDoneResponse); !ok || r.ID != seekID {
		t.Fatal("stale chunks should be skipped until SEEK_DONE")
	}
	if r, ok := next(t, c).(ChunkResponse); !ok || r.Time != 12 {
		t.Fatal("expected chunk for the seek id")
	}

	close(ch)
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("expected ErrWorkerStopped, got %v", err)
	}

	if len(posted) != 2 {
		t.Fatalf("expected 2 posted requests, got %d", len(posted))
	}
	c.Pause()
	if p, ok := posted[2].(PauseRequest); !ok || p.ID != seekID {
		t.Fatal("pause should target the latest id")
	}
}

type posterFunc func(Request)

func (f posterFunc) Post(r Request) { f(r) }

func TestStateString(t *testing.T) {
	if StatePaused.String() != "paused" || State(42).String() != "state(42)" {
		t.Fatal("unexpected state names")
	}
}
