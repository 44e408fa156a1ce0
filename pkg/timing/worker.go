// Package timing provides an isolated periodic tick source.
//
// A Worker owns its own goroutine, locked to an OS thread, and emits Tick
// messages at a fixed interval regardless of how busy the consumer is. It is
// controlled through a small message protocol: Start and Stop in, Tick out.
package timing

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultIntervalMs is used when Start carries no interval.
const DefaultIntervalMs = 75

// ErrUnavailable is returned by New when isolated workers are disabled.
var ErrUnavailable = errors.New("timing: isolated worker unavailable")

var logger = log.With().Str("component", "timing-worker").Logger()

// Message is an inbound control message.
type Message interface {
	isMessage()
}

// Start (re)starts the tick loop at the given interval.
type Start struct {
	IntervalMs int
}

// Stop halts the tick loop. Stopping a stopped worker is a no-op.
type Stop struct{}

func (Start) isMessage() {}
func (Stop) isMessage()  {}

// Tick is emitted once per interval while the worker is started.
type Tick struct {
	At time.Time
}

// Options controls worker construction.
type Options struct {
	// Disabled makes New fail with ErrUnavailable, forcing callers onto
	// their fallback clock.
	Disabled bool
}

// Worker is an isolated tick source.
type Worker struct {
	inbox chan Message
	ticks chan Tick
	quit  chan struct{}
	once  sync.Once
}

// New spawns a worker goroutine. The worker is idle until it receives Start.
func New(opts Options) (*Worker, error) {
	if opts.Disabled {
		return nil, ErrUnavailable
	}

	w := &Worker{
		inbox: make(chan Message, 4),
		ticks: make(chan Tick, 1),
		quit:  make(chan struct{}),
	}

	ready := make(chan struct{})
	go w.loop(ready)
	<-ready

	return w, nil
}

// Post delivers a control message. It never blocks once the worker has been
// terminated.
func (w *Worker) Post(msg Message) {
	select {
	case w.inbox <- msg:
	case <-w.quit:
	}
}

// Ticks returns the outbound tick channel.
func (w *Worker) Ticks() <-chan Tick {
	return w.ticks
}

// Terminate stops the worker goroutine. Safe to call more than once.
func (w *Worker) Terminate() {
	w.once.Do(func() {
		close(w.quit)
	})
}

func (w *Worker) loop(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	close(ready)

	var (
		ticker *time.Ticker
		tickC  <-chan time.Time
	)
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stop()

	for {
		select {
		case <-w.quit:
			return

		case msg := <-w.inbox:
			switch m := msg.(type) {
			case Start:
				stop()
				interval := m.IntervalMs
				if interval <= 0 {
					interval = DefaultIntervalMs
				}
				ticker = time.NewTicker(time.Duration(interval) * time.Millisecond)
				tickC = ticker.C
				logger.Debug().Int("interval_ms", interval).Msg("Tick loop started")
			case Stop:
				stop()
				logger.Debug().Msg("Tick loop stopped")
			}

		case now := <-tickC:
			// Drop the tick if the consumer has not drained the last one.
			select {
			case w.ticks <- Tick{At: now}:
			default:
			}
		}
	}
}
