// Package schedule runs the periodic fetch-then-apply cycle on a cron
// schedule.
//
// A Scheduler is a loop: it computes the next firing time from its
// cron expression, waits for it, runs its jobs in order in the
// current goroutine, and repeats until its context is done.  Jobs
// don't overlap.  A slow job just makes the scheduler skip the
// firings that passed while it ran.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorhill/cronexpr"
)

var (
	ErrAlreadyRunning = errors.New("already running")

	// ErrNoNext means the expression will never fire again.
	ErrNoNext = errors.New("schedule has no next time")
)

const (
	notRunning = int64(iota)
	running
)

// Job is one step of a cycle.
type Job struct {
	Name string
	F    func(context.Context) error
}

// Scheduler fires its Jobs according to a cron expression.
type Scheduler struct {
	Spec   string
	Jobs   []Job
	Logger *slog.Logger

	// Now and After default to the time package.  Tests replace
	// them.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time

	// OnCycle, if set, is called after each cycle with its error.
	OnCycle func(error)

	expr    *cronexpr.Expression
	running int64
	ready   chan bool
}

// New parses the given cron expression.  Both the five-field form and
// cronexpr's extensions ("@hourly", seconds, years) work.
func New(spec string, jobs ...Job) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("bad schedule %q: %w", spec, err)
	}
	return &Scheduler{
		Spec:  spec,
		Jobs:  jobs,
		expr:  expr,
		ready: make(chan bool, 1),
	}, nil
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scheduler) after(d time.Duration) <-chan time.Time {
	if s.After == nil {
		return time.After(d)
	}
	return s.After(d)
}

// Next is the first firing time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

// IsRunning tries to report whether Run is executing.
func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt64(&s.running) == running
}

// Wait waits up to timeout for Run to start.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-s.ready:
		return true
	}
}

// Run executes the schedule in the current goroutine until ctx is
// done.  Job errors are logged and don't stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&s.running, notRunning, running) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt64(&s.running, notRunning)

	select {
	case s.ready <- true:
	default:
	}

	for {
		now := s.now()
		at := s.Next(now)
		if at.IsZero() {
			return ErrNoNext
		}
		s.logger().Debug("next cycle", "at", at, "in", at.Sub(now))

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(at.Sub(now)):
		}

		err := s.RunOnce(ctx)
		if err != nil {
			s.logger().Warn("cycle failed", "error", err)
		}
		if s.OnCycle != nil {
			s.OnCycle(err)
		}
	}
}

// RunOnce runs the jobs in order, stopping at the first failure.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, j := range s.Jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		then := s.now()
		if err := j.F(ctx); err != nil {
			return fmt.Errorf("%s: %w", j.Name, err)
		}
		s.logger().Debug("job done", "job", j.Name, "elapsed", s.now().Sub(then))
	}
	return nil
}
