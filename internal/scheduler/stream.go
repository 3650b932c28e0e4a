package scheduler

import (
	"context"
	"time"

	"crypto-terminal/internal/util"
)

// Job is built on the loop and run on a worker goroutine.
type Job[T any] func(ctx context.Context) (T, error)

// StreamState is the fetch state of a stream.
type StreamState int

const (
	Idle StreamState = iota
	Fetching
)

// Stream keeps one data stream fresh: an immediate fetch on Start, a periodic
// tick every interval, and at most one fetch in flight. Ticks that arrive
// while a fetch runs are dropped. All methods must be called on the loop.
type Stream[T any] struct {
	name     string
	loop     *Loop
	interval time.Duration
	build    func(subject string) Job[T]
	apply    func(subject string, result T, err error)
	logger   *util.Logger

	subject  string
	active   bool
	inFlight bool
	followUp bool
	epoch    uint64
	ctx      context.Context
	cancel   context.CancelFunc

	fetches uint64
	dropped uint64
	stale   uint64
}

// NewStream creates a stopped stream. build returns nil when there is nothing
// to fetch for the subject; apply runs on the loop with the worker's result.
// A zero interval disables the periodic tick.
func NewStream[T any](name string, loop *Loop, interval time.Duration,
	build func(subject string) Job[T], apply func(subject string, result T, err error)) *Stream[T] {
	return &Stream[T]{
		name:     name,
		loop:     loop,
		interval: interval,
		build:    build,
		apply:    apply,
		logger:   util.NewLogger("stream." + name),
	}
}

// Start stops any previous work and begins streaming subject: one immediate
// fetch plus a freshly armed periodic tick.
func (s *Stream[T]) Start(subject string) {
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	s.subject = subject
	s.active = true
	s.epoch++
	s.ctx = ctx
	s.cancel = cancel

	if s.interval > 0 {
		go s.tick(ctx, s.epoch)
	}
	s.Trigger()
}

// Stop halts the periodic tick and marks any in-flight result as stale.
func (s *Stream[T]) Stop() {
	if !s.active {
		return
	}
	s.active = false
	s.epoch++
	s.inFlight = false
	s.followUp = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Debug("Stream stopped", "subject", s.subject)
}

// Trigger starts a fetch unless one is already in flight.
func (s *Stream[T]) Trigger() {
	if !s.active {
		return
	}
	if s.inFlight {
		s.dropped++
		return
	}
	s.launch()
}

// RefreshNow fetches outside the periodic schedule. If a fetch is in flight,
// exactly one follow-up fetch runs after it completes.
func (s *Stream[T]) RefreshNow() {
	if !s.active {
		return
	}
	if s.inFlight {
		s.followUp = true
		return
	}
	s.launch()
}

func (s *Stream[T]) launch() {
	job := s.build(s.subject)
	if job == nil {
		return
	}

	s.inFlight = true
	s.fetches++
	epoch, subject, ctx := s.epoch, s.subject, s.ctx

	go func() {
		result, err := job(ctx)
		s.loop.Post(func() { s.complete(epoch, subject, result, err) })
	}()
}

func (s *Stream[T]) complete(epoch uint64, subject string, result T, err error) {
	if epoch != s.epoch || !s.active || subject != s.subject {
		s.stale++
		s.logger.Debug("Discarding stale result", "subject", subject, "active_subject", s.subject)
		return
	}

	s.inFlight = false
	s.apply(subject, result, err)

	if s.followUp && s.active && s.epoch == epoch {
		s.followUp = false
		s.launch()
	}
}

func (s *Stream[T]) tick(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			posted := s.loop.Post(func() {
				if s.epoch == epoch {
					s.Trigger()
				}
			})
			if !posted {
				return
			}
		}
	}
}

func (s *Stream[T]) Subject() string {
	return s.subject
}

func (s *Stream[T]) Active() bool {
	return s.active
}

func (s *Stream[T]) State() StreamState {
	if s.inFlight {
		return Fetching
	}
	return Idle
}

// Stats returns the number of fetches started, ticks dropped by the
// single-flight check and results discarded as stale.
func (s *Stream[T]) Stats() (fetches, dropped, stale uint64) {
	return s.fetches, s.dropped, s.stale
}
