package audio

import (
	"context"
	"errors"
	"math"
	"sync"

	"player-backend/internal/decoder"
)

// ErrNotLoaded is returned by operations that need a loaded track.
var ErrNotLoaded = errors.New("audio: no track loaded")

// StreamOptions tune buffering. Zero values take defaults.
type StreamOptions struct {
	ChunkSize int
	// HighWater is how far ahead of the clock, in seconds, audio may be
	// queued before the decoder is paused.
	HighWater float64
	// LowWater is the queued-ahead level below which a paused decoder is
	// resumed.
	LowWater float64
	// StartDelay is added to the clock when anchoring the first chunk.
	StartDelay float64
}

// Decoder is the consumer side of the decode protocol. *decoder.Client
// satisfies it.
type Decoder interface {
	Init(file decoder.File, chunkSize int) int64
	Seek(seconds float64) int64
	Pause()
	Resume()
	Next(ctx context.Context) (decoder.Response, error)
}

type sourceRef struct{}

// StreamPlayer plays one decoded track at a time through the shared context,
// handing every chunk to the scheduler as a job.
type StreamPlayer struct {
	actx  *Context
	sched *Scheduler
	dec   Decoder
	opts  StreamOptions

	mu           sync.Mutex
	group        string
	meta         *decoder.MetadataResponse
	loadWait     chan error
	nextStart    float64
	timeOffset   float64
	anchored     bool
	seekTarget   float64
	queued       int
	sources      map[*sourceRef]*Source
	workerPaused bool
	paused       bool
	pausedAt     float64
	eof          bool
	ended        bool
	onEnded      func()
}

// NewStreamPlayer wires a player to the shared context and scheduler.
func NewStreamPlayer(actx *Context, sched *Scheduler, dec Decoder, opts StreamOptions) *StreamPlayer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = decoder.DefaultChunkSize
	}
	if opts.HighWater <= 0 {
		opts.HighWater = 8
	}
	if opts.LowWater <= 0 || opts.LowWater >= opts.HighWater {
		opts.LowWater = opts.HighWater / 2
	}
	return &StreamPlayer{
		actx:    actx,
		sched:   sched,
		dec:     dec,
		opts:    opts,
		sources: make(map[*sourceRef]*Source),
	}
}

// SetOnEnded registers a callback for natural end of track.
func (p *StreamPlayer) SetOnEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

// Run consumes decoder responses until ctx is cancelled or the decoder
// stops.
func (p *StreamPlayer) Run(ctx context.Context) error {
	for {
		resp, err := p.dec.Next(ctx)
		if err != nil {
			p.mu.Lock()
			if p.loadWait != nil {
				p.loadWait <- err
				p.loadWait = nil
			}
			p.mu.Unlock()
			return err
		}
		p.handle(resp)
	}
}

// Load starts decoding file and waits for its metadata.
func (p *StreamPlayer) Load(ctx context.Context, file decoder.File) error {
	wait := make(chan error, 1)

	p.mu.Lock()
	stale := p.resetLocked()
	p.meta = nil
	p.paused = false
	p.seekTarget = 0
	p.loadWait = wait
	p.mu.Unlock()
	p.release(stale)

	p.dec.Init(file, p.opts.ChunkSize)

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type staleState struct {
	group   string
	sources []*Source
}

// resetLocked drops all queued audio and starts a fresh job group.
func (p *StreamPlayer) resetLocked() staleState {
	st := staleState{group: p.group}
	for _, src := range p.sources {
		if src != nil {
			st.sources = append(st.sources, src)
		}
	}
	p.sources = make(map[*sourceRef]*Source)
	p.group = p.sched.CreateGroupID("stream")
	p.queued = 0
	p.nextStart = 0
	p.anchored = false
	p.workerPaused = false
	p.eof = false
	p.ended = false
	return st
}

func (p *StreamPlayer) release(st staleState) {
	if st.group != "" {
		p.sched.ClearGroup(st.group)
	}
	for _, src := range st.sources {
		p.actx.Stop(src)
	}
}

func (p *StreamPlayer) handle(resp decoder.Response) {
	switch r := resp.(type) {
	case decoder.MetadataResponse:
		p.mu.Lock()
		p.meta = &r
		if p.loadWait != nil {
			p.loadWait <- nil
			p.loadWait = nil
		}
		p.mu.Unlock()
		logger.Info().Int("sample_rate", r.SampleRate).Int("channels", r.Channels).
			Float64("duration", r.Duration).Str("encoding", r.Encoding).Msg("Track loaded")

	case decoder.ChunkResponse:
		p.scheduleChunk(r)

	case decoder.EOFResponse:
		p.mu.Lock()
		p.eof = true
		fn := p.checkEndedLocked()
		p.mu.Unlock()
		if fn != nil {
			fn()
		}

	case decoder.SeekDoneResponse:
		logger.Debug().Float64("time", r.Time).Msg("Seek done")

	case decoder.ErrorResponse:
		p.mu.Lock()
		wait := p.loadWait
		p.loadWait = nil
		p.mu.Unlock()
		if wait != nil {
			wait <- errors.New(r.Error)
			return
		}
		logger.Error().Str("error", r.Error).Msg("Decoder error during playback")
	}
}

func (p *StreamPlayer) scheduleChunk(r decoder.ChunkResponse) {
	p.mu.Lock()
	if p.meta == nil || p.paused {
		p.mu.Unlock()
		return
	}

	buf := NewBuffer(r.Data, p.meta.Channels, p.meta.SampleRate)
	now := p.actx.CurrentTime()
	if !p.anchored || p.nextStart < now {
		// First chunk after load or seek, or an underrun: restart the
		// cursor from the clock.
		p.nextStart = now + p.opts.StartDelay
		p.timeOffset = p.nextStart - r.Time
		p.anchored = true
	}
	when := p.nextStart
	p.nextStart += buf.Duration()
	p.queued++
	group := p.group

	pause := !p.workerPaused && p.nextStart-now > p.opts.HighWater
	if pause {
		p.workerPaused = true
	}
	p.mu.Unlock()

	p.sched.ScheduleAt(group, when, func(at float64) error {
		return p.realize(group, buf, at)
	}, func() {
		p.mu.Lock()
		if group == p.group {
			p.queued--
		}
		p.mu.Unlock()
	})

	if pause {
		p.dec.Pause()
	}
}

func (p *StreamPlayer) realize(group string, buf *Buffer, at float64) error {
	ref := &sourceRef{}

	p.mu.Lock()
	if group != p.group {
		p.mu.Unlock()
		return nil
	}
	p.queued--
	p.sources[ref] = nil
	p.mu.Unlock()

	src := p.actx.StartBuffer(buf, at, func() { p.sourceEnded(ref) })

	p.mu.Lock()
	if _, ok := p.sources[ref]; ok {
		p.sources[ref] = src
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	// Reset raced with the start; silence it.
	p.actx.Stop(src)
	return nil
}

func (p *StreamPlayer) sourceEnded(ref *sourceRef) {
	p.mu.Lock()
	if _, ok := p.sources[ref]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sources, ref)

	resume := false
	if p.workerPaused && !p.eof && p.nextStart-p.actx.CurrentTime() < p.opts.LowWater {
		p.workerPaused = false
		resume = true
	}
	fn := p.checkEndedLocked()
	p.mu.Unlock()

	if resume {
		p.dec.Resume()
	}
	if fn != nil {
		fn()
	}
}

func (p *StreamPlayer) checkEndedLocked() func() {
	if p.ended || !p.eof || p.queued > 0 || len(p.sources) > 0 {
		return nil
	}
	p.ended = true
	return p.onEnded
}

// Seek repositions playback to seconds.
func (p *StreamPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	if p.meta == nil {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	seconds = p.clampLocked(seconds)
	if p.paused {
		p.pausedAt = seconds
		p.mu.Unlock()
		return nil
	}
	stale := p.resetLocked()
	p.seekTarget = seconds
	p.mu.Unlock()

	p.release(stale)
	p.dec.Seek(seconds)
	return nil
}

// Pause stops output and remembers the position.
func (p *StreamPlayer) Pause() {
	p.mu.Lock()
	if p.meta == nil || p.paused {
		p.mu.Unlock()
		return
	}
	pos := p.positionLocked()
	stale := p.resetLocked()
	p.paused = true
	p.pausedAt = pos
	p.mu.Unlock()

	p.release(stale)
	p.dec.Pause()
}

// Resume continues from the paused position.
func (p *StreamPlayer) Resume() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = false
	at := p.pausedAt
	p.mu.Unlock()

	if err := p.Seek(at); err != nil {
		logger.Warn().Err(err).Msg("Resume failed")
	}
}

// Stop drops all queued audio and halts decoding.
func (p *StreamPlayer) Stop() {
	p.mu.Lock()
	stale := p.resetLocked()
	p.meta = nil
	p.paused = false
	p.mu.Unlock()

	p.release(stale)
	p.dec.Pause()
}

// Paused reports whether playback is paused.
func (p *StreamPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Ended reports whether the loaded track played to its end.
func (p *StreamPlayer) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Duration of the loaded track in seconds.
func (p *StreamPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		return 0
	}
	return p.meta.Duration
}

// Metadata of the loaded track, or nil.
func (p *StreamPlayer) Metadata() *decoder.MetadataResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		return nil
	}
	m := *p.meta
	return &m
}

// CurrentTime is the media position in seconds.
func (p *StreamPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *StreamPlayer) positionLocked() float64 {
	if p.meta == nil {
		return 0
	}
	if p.paused {
		return p.pausedAt
	}
	if !p.anchored {
		return p.seekTarget
	}
	return p.clampLocked(p.actx.CurrentTime() - p.timeOffset)
}

func (p *StreamPlayer) clampLocked(t float64) float64 {
	t = math.Max(0, t)
	if p.meta != nil && p.meta.Duration > 0 {
		t = math.Min(t, p.meta.Duration)
	}
	return t
}
