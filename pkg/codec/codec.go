// Package codec exposes audio decoding as an opaque capability: open a file,
// read its properties, pull fixed-size planar float32 chunks and seek.
package codec

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrNoAudioStream = errors.New("codec: no audio stream")
	ErrUnsupported   = errors.New("codec: unsupported format")
	ErrClosed        = errors.New("codec: stream closed")
)

// Properties describe an opened stream.
type Properties struct {
	SampleRate    int
	Channels      int
	Duration      float64
	BitsPerSample int
	Encoding      string
	Metadata      map[string]string
	Cover         []byte
	CoverMIME     string
}

// Chunk is one block of decoded audio.
type Chunk struct {
	// Samples holds Frames frames per channel, channel after channel.
	Samples []float32
	Frames  int
	// Time is the media position of the first frame, in seconds.
	Time float64
	// EOF is set on the last chunk of the stream.
	EOF bool
}

// Stream is an open decode session.
type Stream interface {
	Properties() Properties
	// ReadChunk decodes up to frames frames. Each call returns a freshly
	// allocated slice the caller owns.
	ReadChunk(frames int) (Chunk, error)
	Seek(seconds float64) error
	Close() error
}

// Decoder opens streams from files.
type Decoder interface {
	Open(path string) (Stream, error)
}

// Registry dispatches on file extension and falls back to a default decoder.
type Registry struct {
	byExt    map[string]Decoder
	fallback Decoder
}

// NewRegistry returns a registry with the pure Go decoders for mp3, flac,
// wav and ogg, and ffmpeg for everything else.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Decoder), fallback: FFmpeg{}}
	b := Beep{}
	for _, ext := range []string{".mp3", ".flac", ".wav", ".ogg"} {
		r.Register(ext, b)
	}
	return r
}

// Register binds an extension (with leading dot) to a decoder.
func (r *Registry) Register(ext string, d Decoder) {
	r.byExt[strings.ToLower(ext)] = d
}

// SetFallback replaces the decoder used for unregistered extensions.
func (r *Registry) SetFallback(d Decoder) {
	r.fallback = d
}

// Open picks a decoder by extension. If the preferred decoder fails and a
// different fallback exists, the fallback is tried.
func (r *Registry) Open(path string) (Stream, error) {
	d, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		if r.fallback == nil {
			return nil, ErrUnsupported
		}
		return r.fallback.Open(path)
	}

	s, err := d.Open(path)
	if err == nil || r.fallback == nil {
		return s, err
	}
	logger.Debug().Err(err).Str("path", path).Msg("Primary decoder failed, trying fallback")
	if fs, ferr := r.fallback.Open(path); ferr == nil {
		return fs, nil
	}
	return nil, err
}
