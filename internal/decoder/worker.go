package decoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"player-backend/pkg/codec"
)

var logger = log.With().Str("component", "decoder").Logger()

// DefaultChunkSize is used when Init carries no chunk size.
const DefaultChunkSize = 4096

// WorkerOptions configure a Worker. Zero values take defaults.
type WorkerOptions struct {
	// ScratchDir is the parent of the worker's private mount root.
	ScratchDir     string
	RequestBuffer  int
	ResponseBuffer int
}

// Worker owns at most one decode session and serializes all work on a single
// goroutine started by Run.
type Worker struct {
	decoder   codec.Decoder
	root      string
	requests  chan Request
	responses chan Response
	done      chan struct{}
	closeOnce sync.Once

	// session is only touched by the Run goroutine.
	session *session
}

// NewWorker creates a worker with a private scratch directory.
func NewWorker(dec codec.Decoder, opts WorkerOptions) *Worker {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.RequestBuffer <= 0 {
		opts.RequestBuffer = 16
	}
	if opts.ResponseBuffer <= 0 {
		opts.ResponseBuffer = 8
	}
	return &Worker{
		decoder:   dec,
		root:      filepath.Join(opts.ScratchDir, "player-decoder-"+uuid.NewString()),
		requests:  make(chan Request, opts.RequestBuffer),
		responses: make(chan Response, opts.ResponseBuffer),
		done:      make(chan struct{}),
	}
}

// Post enqueues a request. It returns without delivering once Run has exited.
func (w *Worker) Post(req Request) {
	select {
	case w.requests <- req:
	case <-w.done:
	}
}

// Responses is the outbound message stream. It is closed when Run exits.
func (w *Worker) Responses() <-chan Response {
	return w.responses
}

// Run processes requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer w.shutdown()

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", w.root).Msg("Failed to create scratch dir")
	}

	for {
		if w.producing() {
			select {
			case <-ctx.Done():
				return
			case req := <-w.requests:
				w.handle(ctx, req)
				continue
			default:
			}
			w.produce(ctx)
			runtime.Gosched()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.handle(ctx, req)
		}
	}
}

func (w *Worker) shutdown() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.destroy()
		if err := os.RemoveAll(w.root); err != nil {
			logger.Debug().Err(err).Msg("Failed to remove scratch dir")
		}
		close(w.responses)
	})
}

func (w *Worker) producing() bool {
	return w.session != nil && w.session.state == StateDecoding
}

func (w *Worker) emit(ctx context.Context, resp Response) {
	select {
	case w.responses <- resp:
	case <-ctx.Done():
	}
}

func (w *Worker) fail(ctx context.Context, id int64, err error) {
	logger.Warn().Err(err).Int64("id", id).Msg("Decode session failed")
	if w.session != nil {
		w.session.state = StateError
	}
	w.destroy()
	w.emit(ctx, ErrorResponse{ID: id, Error: err.Error()})
}

func (w *Worker) destroy() {
	if w.session == nil {
		return
	}
	w.session.teardown()
	w.session = nil
}

func (w *Worker) handle(ctx context.Context, req Request) {
	defer func() {
		if r := recover(); r != nil {
			w.fail(ctx, req.RequestID(), fmt.Errorf("decoder panic: %v", r))
		}
	}()

	switch r := req.(type) {
	case InitRequest:
		w.init(ctx, r)
	case PauseRequest:
		if s := w.session; s != nil && s.id == r.ID && s.state == StateDecoding {
			s.state = StatePaused
		}
	case ResumeRequest:
		if s := w.session; s != nil && s.id == r.ID && s.state == StatePaused {
			s.state = StateDecoding
		}
	case SeekRequest:
		w.seek(ctx, r)
	}
}

func (w *Worker) init(ctx context.Context, r InitRequest) {
	w.destroy()

	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	s := &session{id: r.ID, chunkSize: chunk, state: StateInitializing}
	w.session = s

	if err := s.mount(w.root, r.File); err != nil {
		w.fail(ctx, r.ID, err)
		return
	}
	stream, err := w.decoder.Open(s.mounted)
	if err != nil {
		w.fail(ctx, r.ID, fmt.Errorf("failed to open decoder: %w", err))
		return
	}
	s.stream = stream

	p := stream.Properties()
	w.emit(ctx, MetadataResponse{
		ID:            r.ID,
		SampleRate:    p.SampleRate,
		Channels:      p.Channels,
		Duration:      p.Duration,
		Metadata:      p.Metadata,
		Encoding:      p.Encoding,
		Cover:         p.Cover,
		CoverMIME:     p.CoverMIME,
		BitsPerSample: p.BitsPerSample,
	})
	s.state = StateDecoding
	logger.Debug().Int64("id", r.ID).Str("file", r.File.Name).Msg("Decode session started")
}

func (w *Worker) seek(ctx context.Context, r SeekRequest) {
	s := w.session
	if s == nil || s.stream == nil {
		return
	}
	if err := s.stream.Seek(r.SeekTime); err != nil {
		w.fail(ctx, r.ID, err)
		return
	}
	s.id = r.ID
	s.state = StateDecoding
	w.emit(ctx, SeekDoneResponse{ID: r.ID, Time: r.SeekTime})
}

func (w *Worker) produce(ctx context.Context) {
	s := w.session
	defer func() {
		if r := recover(); r != nil {
			w.fail(ctx, s.id, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	chunk, err := s.stream.ReadChunk(s.chunkSize)
	if err != nil {
		w.fail(ctx, s.id, err)
		return
	}
	if len(chunk.Samples) > 0 {
		w.emit(ctx, ChunkResponse{
			ID:     s.id,
			Data:   chunk.Samples,
			Frames: chunk.Frames,
			Time:   chunk.Time,
		})
	}
	if chunk.EOF {
		s.state = StateEOF
		w.emit(ctx, EOFResponse{ID: s.id})
	}
}
