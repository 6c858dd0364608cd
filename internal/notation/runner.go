package notation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Do once the runner has shut down.
var ErrStopped = errors.New("notation: runner stopped")

// Signal is a single-slot wakeup. Raising it while a wakeup is already
// pending has no further effect.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a lowered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise marks the signal pending. It never blocks.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C is received from when the signal is pending.
func (s *Signal) C() <-chan struct{} { return s.ch }

type request struct {
	fn   func(*Notation) error
	done chan error
}

// Runner owns a Notation on a single goroutine.
//
// Concurrency model: the loop in Run is the only code touching the
// Notation. Callers submit work through Do; the directory watcher raises
// the rescan Signal; the flush deadline is watched with a timer that is
// reset after every step.
type Runner struct {
	n        *Notation
	rescan   *Signal
	poll     time.Duration
	logger   *slog.Logger
	requests chan request
	stopped  chan struct{}
	started  atomic.Bool
}

// NewRunner creates a runner for n. rescan may be nil; poll is the
// interval of the periodic full scan and disables it when zero.
func NewRunner(n *Notation, rescan *Signal, poll time.Duration, logger *slog.Logger) *Runner {
	if rescan == nil {
		rescan = NewSignal()
	}
	return &Runner{
		n:        n,
		rescan:   rescan,
		poll:     poll,
		logger:   logger.With(slog.String("component", "runner")),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Rescan returns the signal that requests a directory scan.
func (r *Runner) Rescan() *Signal { return r.rescan }

// Run processes requests until ctx is done, then flushes and closes the
// Notation. It must be called once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("notation: runner already started")
	}
	defer close(r.stopped)

	flush := time.NewTimer(time.Hour)
	flush.Stop()
	defer flush.Stop()

	var poll <-chan time.Time
	if r.poll > 0 {
		t := time.NewTicker(r.poll)
		defer t.Stop()
		poll = t.C
	}

	for {
		r.armFlush(flush)

		select {
		case <-ctx.Done():
			if err := r.n.Close(); err != nil {
				r.logger.Error("close failed", slog.String("error", err.Error()))
				return err
			}
			return nil

		case req := <-r.requests:
			req.done <- req.fn(r.n)

		case <-r.rescan.C():
			r.reconcile(ctx)

		// The directory mtime misses in-place edits, so polls scan too.
		case <-poll:
			r.reconcile(ctx)

		case <-flush.C:
			if _, err := r.n.Tick(); err != nil {
				r.logger.Warn("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// armFlush points the timer at the debounce deadline.
func (r *Runner) armFlush(t *time.Timer) {
	t.Stop()
	select {
	case <-t.C:
	default:
	}
	deadline, ok := r.n.Deadline()
	if !ok {
		return
	}
	t.Reset(max(deadline.Sub(r.n.Clock().Now()), 0))
}

func (r *Runner) reconcile(ctx context.Context) {
	if _, err := r.n.CheckAndReconcile(ctx, true); err != nil {
		r.logger.Error("directory scan failed", slog.String("error", err.Error()))
	}
}

// Do runs fn on the loop goroutine and returns its error.
func (r *Runner) Do(ctx context.Context, fn func(*Notation) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
