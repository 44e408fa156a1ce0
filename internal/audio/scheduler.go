package audio

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"player-backend/pkg/timing"
)

const (
	DefaultTickInterval    = 75 * time.Millisecond
	DefaultScheduleHorizon = 1.5
)

// ClockSource identifies what drives the scheduler's ticks.
type ClockSource string

const (
	ClockNone   ClockSource = ""
	ClockWorker ClockSource = "worker"
	ClockMain   ClockSource = "main"
)

// Clock is the audio clock the scheduler plans against, in seconds.
type Clock interface {
	CurrentTime() float64
}

// TickWorker is an isolated tick source. *timing.Worker satisfies it.
type TickWorker interface {
	Post(msg timing.Message)
	Ticks() <-chan timing.Tick
	Terminate()
}

// SchedulerOptions tune the look-ahead loop. Zero values take defaults.
type SchedulerOptions struct {
	Interval time.Duration
	// Horizon is the look-ahead window in seconds.
	Horizon float64
	// NewWorker creates the isolated tick source. If it fails the scheduler
	// falls back to a ticker on its own goroutine.
	NewWorker func() (TickWorker, error)
}

type job struct {
	id        string
	groupID   string
	seq       uint64
	time      float64
	scheduled bool
	cancelled bool
	realize   func(when float64) error
	cleanup   func()
}

// Scheduler hands "realize at audio time T" callbacks to the audio graph once
// T falls inside the look-ahead horizon.
type Scheduler struct {
	clock     Clock
	interval  time.Duration
	horizon   float64
	newWorker func() (TickWorker, error)

	mu       sync.Mutex
	jobs     map[string]*job
	seq      uint64
	groupSeq uint64
	jobSeq   uint64

	runMu  sync.Mutex
	source ClockSource
	worker TickWorker
	ticker *time.Ticker
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler driven by clock.
func NewScheduler(clock Clock, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultTickInterval
	}
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultScheduleHorizon
	}
	if opts.NewWorker == nil {
		opts.NewWorker = func() (TickWorker, error) {
			return timing.New(timing.Options{})
		}
	}
	return &Scheduler{
		clock:     clock,
		interval:  opts.Interval,
		horizon:   opts.Horizon,
		newWorker: opts.NewWorker,
		jobs:      make(map[string]*job),
	}
}

// Start acquires a tick source, replacing any previous one.
func (s *Scheduler) Start() {
	s.Stop()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	done := make(chan struct{})
	s.done = done

	w, err := s.newWorker()
	if err == nil && w != nil {
		s.worker = w
		s.source = ClockWorker
		w.Post(timing.Start{IntervalMs: int(s.interval / time.Millisecond)})
		go s.consumeWorker(w.Ticks(), done)
		logger.Debug().Str("clock_source", string(ClockWorker)).Msg("Scheduler started")
		return
	}

	logger.Debug().Err(err).Msg("Timing worker unavailable, using main ticker")
	ticker := time.NewTicker(s.interval)
	s.ticker = ticker
	s.source = ClockMain
	go s.consumeTicker(ticker.C, done)
}

// Stop tears down the active tick source. Idempotent.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.worker != nil {
		s.worker.Post(timing.Stop{})
		s.worker.Terminate()
		s.worker = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.source = ClockNone
}

// ClockSource reports which tick source is active.
func (s *Scheduler) ClockSource() ClockSource {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.source
}

func (s *Scheduler) consumeWorker(ticks <-chan timing.Tick, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticks:
			select {
			case <-done:
				return
			default:
			}
			s.Tick()
		}
	}
}

func (s *Scheduler) consumeTicker(ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticks:
			select {
			case <-done:
				return
			default:
			}
			s.Tick()
		}
	}
}

// CreateGroupID returns a fresh group identifier with the given prefix.
func (s *Scheduler) CreateGroupID(prefix string) string {
	if prefix == "" {
		prefix = "g"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupSeq++
	return prefix + "-" + strconv.FormatUint(s.groupSeq, 10)
}

// ScheduleAt registers realize to run once t is within the horizon. t is not
// checked against the clock; a past t realizes on the next tick.
func (s *Scheduler) ScheduleAt(groupID string, t float64, realize func(when float64) error, cleanup func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobSeq++
	s.seq++
	j := &job{
		id:      groupID + "-" + strconv.FormatUint(s.jobSeq, 10),
		groupID: groupID,
		seq:     s.seq,
		time:    t,
		realize: realize,
		cleanup: cleanup,
	}
	s.jobs[j.id] = j
	return j.id
}

// CancelJob cancels one job. Unknown ids are ignored.
func (s *Scheduler) CancelJob(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		j.cancelled = true
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if ok {
		runCleanup(j)
	}
}

// ClearGroup cancels every job in groupID.
func (s *Scheduler) ClearGroup(groupID string) {
	s.cancelWhere(func(j *job) bool { return j.groupID == groupID })
}

// ClearAll cancels every job.
func (s *Scheduler) ClearAll() {
	s.cancelWhere(func(*job) bool { return true })
}

func (s *Scheduler) cancelWhere(match func(*job) bool) {
	s.mu.Lock()
	var removed []*job
	for id, j := range s.jobs {
		if match(j) {
			j.cancelled = true
			delete(s.jobs, id)
			removed = append(removed, j)
		}
	}
	s.mu.Unlock()

	sortBySeq(removed)
	for _, j := range removed {
		runCleanup(j)
	}
}

// Pending returns the number of active jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Tick realizes every job due within the horizon, in insertion order.
func (s *Scheduler) Tick() {
	now := s.clock.CurrentTime()
	horizon := now + s.horizon

	s.mu.Lock()
	var due []*job
	for id, j := range s.jobs {
		if j.cancelled || j.scheduled || j.time > horizon {
			continue
		}
		j.scheduled = true
		delete(s.jobs, id)
		due = append(due, j)
	}
	s.mu.Unlock()

	sortBySeq(due)
	for _, j := range due {
		if err := realizeJob(j); err != nil {
			logger.Warn().Err(err).Str("job", j.id).Msg("Job realize failed, cancelling")
			j.cancelled = true
			runCleanup(j)
		}
	}
}

func sortBySeq(jobs []*job) {
	slices.SortFunc(jobs, func(a, b *job) int { return cmp.Compare(a.seq, b.seq) })
}

func realizeJob(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("realize panicked: %v", r)
		}
	}()
	return j.realize(j.time)
}

func runCleanup(j *job) {
	if j.cleanup == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Str("job", j.id).Msg("Job cleanup panicked")
		}
	}()
	j.cleanup()
}
