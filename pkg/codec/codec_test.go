package codec

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

func writeWAV(t *testing.T, rate, channels, frames int, value int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer f.Close()

	enc := gowav.NewEncoder(f, rate, 16, channels, 1)
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = value
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to finalize fixture: %v", err)
	}
	return path
}

func TestBeepWAVChunks(t *testing.T) {
	path := writeWAV(t, 8000, 1, 8000, 16384)

	s, err := NewRegistry().Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer s.Close()

	p := s.Properties()
	if p.SampleRate != 8000 || p.Channels != 1 || p.BitsPerSample != 16 {
		t.Fatalf("unexpected properties: %+v", p)
	}
	if math.Abs(p.Duration-1.0) > 1e-6 {
		t.Fatalf("expected 1s duration, got %v", p.Duration)
	}
	if p.Encoding != "wav" {
		t.Fatalf("expected wav encoding, got %q", p.Encoding)
	}

	var times []float64
	total := 0
	for i := 0; i < 10; i++ {
		c, err := s.ReadChunk(3000)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(c.Samples) != c.Frames {
			t.Fatalf("mono chunk should have one sample per frame, got %d for %d", len(c.Samples), c.Frames)
		}
		if c.Frames > 0 && math.Abs(float64(c.Samples[0])-0.5) > 1e-3 {
			t.Fatalf("unexpected sample value %v", c.Samples[0])
		}
		times = append(times, c.Time)
		total += c.Frames
		if c.EOF {
			break
		}
	}

	if total != 8000 {
		t.Fatalf("expected 8000 frames, got %d", total)
	}
	want := []float64{0, 0.375, 0.75}
	if len(times) != len(want) {
		t.Fatalf("expected %d chunks, got %v", len(want), times)
	}
	for i := range want {
		if math.Abs(times[i]-want[i]) > 1e-9 {
			t.Fatalf("chunk %d time: want %v, got %v", i, want[i], times[i])
		}
	}
}

func TestBeepSeek(t *testing.T) {
	path := writeWAV(t, 8000, 2, 8000, 1000)

	s, err := Beep{}.Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer s.Close()

	if err := s.Seek(0.5); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	c, err := s.ReadChunk(100)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if c.Time != 0.5 {
		t.Fatalf("expected chunk at 0.5s, got %v", c.Time)
	}
	if len(c.Samples) != 200 {
		t.Fatalf("expected planar stereo samples, got %d", len(c.Samples))
	}
}

func TestClosedStream(t *testing.T) {
	path := writeWAV(t, 8000, 1, 100, 0)
	s, err := Beep{}.Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	s.Close()
	if _, err := s.ReadChunk(10); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBeepUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.aiff")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (Beep{}).Open(path); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDeinterleave(t *testing.T) {
	in := []float32{1, -1, 2, -2, 3, -3}
	data := make([]byte, 0, len(in)*4)
	for _, v := range in {
		b := math.Float32bits(v)
		data = append(data, byte(b), byte(b>>8), byte(b>>16), byte(b>>24))
	}

	got := deinterleave(data, 2, 3)
	want := []float32{1, 2, 3, -1, -2, -3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deinterleave: want %v, got %v", want, got)
		}
	}

	// Frame count is clamped to the available bytes.
	if got := deinterleave(data[:8], 2, 3); len(got) != 2 {
		t.Fatalf("expected clamp to one frame, got %d samples", len(got))
	}
}

type failingDecoder struct{ err error }

func (f failingDecoder) Open(string) (Stream, error) { return nil, f.err }

type stubDecoder struct{ opened *string }

func (s stubDecoder) Open(path string) (Stream, error) {
	*s.opened = path
	return nil, nil
}

func TestRegistryFallback(t *testing.T) {
	var opened string
	r := &Registry{byExt: map[string]Decoder{}}
	r.Register(".MP3", failingDecoder{err: errors.New("bad frame")})
	r.SetFallback(stubDecoder{opened: &opened})

	if _, err := r.Open("/music/a.mp3"); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if opened != "/music/a.mp3" {
		t.Fatalf("fallback not used, opened=%q", opened)
	}

	opened = ""
	if _, err := r.Open("/music/b.m4a"); err != nil || opened != "/music/b.m4a" {
		t.Fatalf("unregistered extension should use fallback, err=%v opened=%q", err, opened)
	}

	r.SetFallback(nil)
	if _, err := r.Open("/music/c.m4a"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without fallback, got %v", err)
	}
}
