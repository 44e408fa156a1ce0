// Package audio owns the process-wide output context, the look-ahead job
// scheduler and the decoder-backed stream player built on top of them.
package audio

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "audio").Logger()

// Buffer is a block of planar float32 PCM: all frames of channel 0, then all
// frames of channel 1, and so on.
type Buffer struct {
	Data       []float32
	Channels   int
	SampleRate int
	Frames     int
}

// NewBuffer wraps planar samples. The slice is retained, not copied.
func NewBuffer(planar []float32, channels, sampleRate int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{
		Data:       planar,
		Channels:   channels,
		SampleRate: sampleRate,
		Frames:     len(planar) / channels,
	}
}

// Duration in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames) / float64(b.SampleRate)
}

func (b *Buffer) sample(ch, frame int) float64 {
	if ch >= b.Channels {
		ch = b.Channels - 1
	}
	return float64(b.Data[ch*b.Frames+frame])
}

// Source is a buffer scheduled on the context.
type Source struct {
	buf     *Buffer
	start   int64
	ratio   float64
	stopped bool
	onEnded func()
}

type timedEvent struct {
	frame int64
	seq   uint64
	fn    func()
}

// Context is the shared output clock and mixer. It is itself a
// beep.Streamer: every call to Stream advances the clock by the number of
// frames rendered.
type Context struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	bufferSize time.Duration
	frame      int64
	sources    []*Source
	events     []timedEvent
	eventSeq   uint64
	gain       *effects.Volume
	volume     float64
	opened     bool
}

// NewContext creates an unopened context. Nothing is rendered until Open.
func NewContext(sampleRate int, bufferSize time.Duration) *Context {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	return &Context{
		sampleRate: beep.SampleRate(sampleRate),
		bufferSize: bufferSize,
		volume:     1,
	}
}

// Open initializes the speaker and starts rendering. Calling Open on an open
// context is a no-op.
func (c *Context) Open() error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := speaker.Init(c.sampleRate, c.sampleRate.N(c.bufferSize)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}

	gain := &effects.Volume{Streamer: c, Base: 2}
	applyVolume(gain, c.Volume())

	c.mu.Lock()
	c.gain = gain
	c.opened = true
	c.mu.Unlock()

	speaker.Play(gain)
	logger.Info().Int("sample_rate", int(c.sampleRate)).Dur("buffer", c.bufferSize).Msg("Audio context opened")
	return nil
}

// Close stops rendering and releases the output device.
func (c *Context) Close() {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return
	}
	c.opened = false
	c.gain = nil
	c.mu.Unlock()

	speaker.Clear()
	speaker.Close()
	logger.Info().Msg("Audio context closed")
}

// SampleRate of the output device.
func (c *Context) SampleRate() int {
	return int(c.sampleRate)
}

// CurrentTime is the audio clock in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / float64(c.sampleRate)
}

// Volume returns the master gain in 0..1.
func (c *Context) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetVolume sets the master gain, clamped to 0..1.
func (c *Context) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))

	c.mu.Lock()
	c.volume = v
	gain := c.gain
	c.mu.Unlock()

	if gain != nil {
		speaker.Lock()
		applyVolume(gain, v)
		speaker.Unlock()
	}
}

func applyVolume(gain *effects.Volume, v float64) {
	if v <= 0 {
		gain.Silent = true
		return
	}
	gain.Silent = false
	gain.Volume = math.Log2(v)
}

// StartBuffer schedules buf to begin sounding at audio-clock time when.
// A time in the past starts the buffer on the next rendered frame. onEnded,
// if set, runs once on the render goroutine after the last frame was mixed
// or after Stop.
func (c *Context) StartBuffer(buf *Buffer, when float64, onEnded func()) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.frameAt(when)
	if start < c.frame {
		start = c.frame
	}
	rate := buf.SampleRate
	if rate <= 0 {
		rate = int(c.sampleRate)
	}
	src := &Source{
		buf:     buf,
		start:   start,
		ratio:   float64(rate) / float64(c.sampleRate),
		onEnded: onEnded,
	}
	c.sources = append(c.sources, src)
	return src
}

// Stop silences the source immediately. Its end callback still fires.
func (c *Context) Stop(src *Source) {
	c.mu.Lock()
	src.stopped = true
	c.mu.Unlock()
}

// At runs fn on the render goroutine when the clock reaches when.
func (c *Context) At(when float64, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventSeq++
	ev := timedEvent{frame: c.frameAt(when), seq: c.eventSeq, fn: fn}
	i, _ := slices.BinarySearchFunc(c.events, ev, func(a, b timedEvent) int {
		if a.frame != b.frame {
			if a.frame < b.frame {
				return -1
			}
			return 1
		}
		if a.seq < b.seq {
			return -1
		}
		return 1
	})
	c.events = slices.Insert(c.events, i, ev)
}

// ActiveSources reports how many sources are still pending or playing.
func (c *Context) ActiveSources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

func (c *Context) frameAt(when float64) int64 {
	return int64(math.Round(when * float64(c.sampleRate)))
}

// Stream renders the next len(samples) frames. It never drains.
func (c *Context) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}

	c.mu.Lock()
	base := c.frame
	end := base + int64(len(samples))
	pos := base

	for pos < end {
		if len(c.events) > 0 && c.events[0].frame <= pos {
			ev := c.events[0]
			c.events = c.events[1:]
			c.mu.Unlock()
			ev.fn()
			c.mu.Lock()
			continue
		}

		segEnd := end
		if len(c.events) > 0 && c.events[0].frame < segEnd {
			segEnd = c.events[0].frame
		}
		c.mix(samples[pos-base:segEnd-base], pos)
		pos = segEnd
		c.frame = pos
	}
	c.frame = end

	ended := c.reap()
	c.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (c *Context) Err() error {
	return nil
}

func (c *Context) mix(out [][2]float64, first int64) {
	for _, src := range c.sources {
		if src.stopped {
			continue
		}
		buf := src.buf
		for i := range out {
			rel := first + int64(i) - src.start
			if rel < 0 {
				continue
			}
			p := float64(rel) * src.ratio
			idx := int(p)
			if idx >= buf.Frames {
				break
			}
			frac := p - float64(idx)
			next := idx + 1
			if next >= buf.Frames {
				next = idx
			}
			l := buf.sample(0, idx)*(1-frac) + buf.sample(0, next)*frac
			r := l
			if buf.Channels > 1 {
				r = buf.sample(1, idx)*(1-frac) + buf.sample(1, next)*frac
			}
			out[i][0] += l
			out[i][1] += r
		}
	}
}

// reap drops finished sources and returns their end callbacks.
func (c *Context) reap() []func() {
	var ended []func()
	kept := c.sources[:0]
	for _, src := range c.sources {
		done := src.stopped
		if !done {
			length := int64(math.Ceil(float64(src.buf.Frames) / src.ratio))
			done = c.frame >= src.start+length
		}
		if !done {
			kept = append(kept, src)
			continue
		}
		if src.onEnded != nil {
			ended = append(ended, src.onEnded)
			src.onEnded = nil
		}
	}
	for i := len(kept); i < len(c.sources); i++ {
		c.sources[i] = nil
	}
	c.sources = kept
	return ended
}
