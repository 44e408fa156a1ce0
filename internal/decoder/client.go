package decoder

import (
	"context"
	"errors"
	"sync"
)

// ErrWorkerStopped is returned by Next once the worker's response stream is
// closed.
var ErrWorkerStopped = errors.New("decoder: worker stopped")

// Poster accepts requests. *Worker satisfies it.
type Poster interface {
	Post(req Request)
}

// Client is the consumer side of the protocol. It allocates request ids and
// filters out responses tagged with anything but the latest one.
type Client struct {
	poster    Poster
	responses <-chan Response

	mu     sync.Mutex
	nextID int64
	latest int64
}

// NewClient pairs a poster with the response stream it produces.
func NewClient(p Poster, responses <-chan Response) *Client {
	return &Client{poster: p, responses: responses}
}

// ForWorker is shorthand for NewClient(w, w.Responses()).
func ForWorker(w *Worker) *Client {
	return NewClient(w, w.Responses())
}

func (c *Client) allocate() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.latest = c.nextID
	return c.latest
}

func (c *Client) current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Init starts a new session and returns its id.
func (c *Client) Init(file File, chunkSize int) int64 {
	id := c.allocate()
	c.poster.Post(InitRequest{ID: id, File: file, ChunkSize: chunkSize})
	return id
}

// Seek supersedes the current id. Chunks already in flight become stale.
func (c *Client) Seek(seconds float64) int64 {
	id := c.allocate()
	c.poster.Post(SeekRequest{ID: id, SeekTime: seconds})
	return id
}

// Pause asks the worker to stop producing for the current session.
func (c *Client) Pause() {
	c.poster.Post(PauseRequest{ID: c.current()})
}

// Resume asks the worker to continue producing for the current session.
func (c *Client) Resume() {
	c.poster.Post(ResumeRequest{ID: c.current()})
}

// Latest returns the id of the most recent Init or Seek.
func (c *Client) Latest() int64 {
	return c.current()
}

// Accept reports whether resp belongs to the latest request.
func (c *Client) Accept(resp Response) bool {
	return resp.ResponseID() == c.current()
}

// Next blocks for the next non-stale response.
func (c *Client) Next(ctx context.Context) (Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-c.responses:
			if !ok {
				return nil, ErrWorkerStopped
			}
			if c.Accept(resp) {
				return resp, nil
			}
			logger.Trace().Int64("id", resp.ResponseID()).Str("type", resp.Type()).Msg("Dropping stale response")
		}
	}
}
