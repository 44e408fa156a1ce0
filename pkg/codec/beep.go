package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Beep decodes mp3, flac, wav and ogg vorbis in pure Go.
type Beep struct{}

// Open implements Decoder.
func (Beep) Open(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	var (
		s        beep.StreamSeekCloser
		format   beep.Format
		encoding string
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		s, format, err = mp3.Decode(f)
		encoding = "mp3"
	case ".flac":
		s, format, err = flac.Decode(f)
		encoding = "flac"
	case ".wav":
		s, format, err = wav.Decode(f)
		encoding = "wav"
	case ".ogg":
		s, format, err = vorbis.Decode(f)
		encoding = "vorbis"
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", encoding, err)
	}

	props := Properties{
		SampleRate:    int(format.SampleRate),
		Channels:      format.NumChannels,
		BitsPerSample: format.Precision * 8,
		Encoding:      encoding,
	}
	if n := s.Len(); n > 0 {
		props.Duration = format.SampleRate.D(n).Seconds()
	}
	applyTags(&props, path)

	return &beepStream{
		s:      s,
		file:   f,
		format: format,
		props:  props,
	}, nil
}

type beepStream struct {
	s      beep.StreamSeekCloser
	file   *os.File
	format beep.Format
	props  Properties
	closed bool
}

func (b *beepStream) Properties() Properties {
	return b.props
}

func (b *beepStream) ReadChunk(frames int) (Chunk, error) {
	if b.closed {
		return Chunk{}, ErrClosed
	}

	start := b.s.Position()
	buf := make([][2]float64, frames)
	n, ok := b.s.Stream(buf)
	if err := b.s.Err(); err != nil {
		return Chunk{}, fmt.Errorf("decode failed: %w", err)
	}

	ch := b.props.Channels
	if ch <= 0 {
		ch = 2
	}
	if ch > 2 {
		ch = 2
	}
	samples := make([]float32, n*ch)
	for i := 0; i < n; i++ {
		samples[i] = float32(buf[i][0])
		if ch == 2 {
			samples[n+i] = float32(buf[i][1])
		}
	}

	eof := !ok || n < frames
	if l := b.s.Len(); l > 0 && b.s.Position() >= l {
		eof = true
	}

	return Chunk{
		Samples: samples,
		Frames:  n,
		Time:    b.format.SampleRate.D(start).Seconds(),
		EOF:     eof,
	}, nil
}

func (b *beepStream) Seek(seconds float64) error {
	if b.closed {
		return ErrClosed
	}
	if seconds < 0 {
		seconds = 0
	}
	pos := int(seconds * float64(b.format.SampleRate))
	if l := b.s.Len(); l > 0 && pos > l {
		pos = l
	}
	if err := b.s.Seek(pos); err != nil {
		return fmt.Errorf("seek to %.3fs failed: %w", seconds, err)
	}
	return nil
}

func (b *beepStream) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.s.Close()
	b.file.Close()
	return err
}
