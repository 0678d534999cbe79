// Package poller provides a bounded polling primitive for observing
// background jobs on the document service. A poll fetches job status
// immediately and then on a fixed interval until the job reaches a
// terminal status, a fetch fails, the observation window elapses, or
// the poll is cancelled.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/domain"
)

const (
	// DefaultInterval is the fixed delay between consecutive status fetches.
	DefaultInterval = 2 * time.Second

	// DefaultMaxDuration is the observation window. A job still running
	// when it elapses ends the poll with a timeout, which callers report
	// separately from a failed fetch.
	DefaultMaxDuration = 5 * time.Minute
)

// FetchFunc retrieves the current status of a background job.
type FetchFunc[S any] func(ctx context.Context) (S, error)

// DoneFunc reports whether a status is terminal. Success and
// server-reported failure both count as terminal.
type DoneFunc[S any] func(status S) bool

// Options configures a single poll.
type Options struct {
	// Interval is the delay between fetches. Defaults to DefaultInterval.
	Interval time.Duration
	// MaxDuration bounds the whole observation. Defaults to DefaultMaxDuration.
	MaxDuration time.Duration
	// JobID identifies the observed job in logs and errors.
	JobID string
	// Logger receives per-poll logging.
	Logger zerolog.Logger
}

// Outcome is the final result of a poll.
type Outcome[S any] struct {
	// Status is the last status fetched before the poll ended.
	Status S
	// Err is nil when the job reached a terminal status. Otherwise it
	// is the fetch error, a *domain.PollTimeoutError when the
	// observation window elapsed, or context.Canceled when the poll
	// was cancelled.
	Err error
}

// Handle controls one active poll. At most one fetch is in flight at
// any time; a slow response delays the next tick rather than letting
// fetches stack up.
type Handle[S any] struct {
	jobID   string
	cancel  context.CancelFunc
	updates chan S
	done    chan struct{}
	outcome Outcome[S]
}

// Start begins polling and returns immediately. The first fetch is
// issued right away rather than after one interval. The returned
// handle reports intermediate statuses on Updates and the final
// result via Outcome.
func Start[S any](ctx context.Context, fetch FetchFunc[S], isDone DoneFunc[S], opts Options) *Handle[S] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}

	pollCtx, cancel := context.WithCancel(ctx)
	h := &Handle[S]{
		jobID:   opts.JobID,
		cancel:  cancel,
		updates: make(chan S, 1),
		done:    make(chan struct{}),
	}
	go h.run(pollCtx, fetch, isDone, opts)
	return h
}

// JobID returns the identifier of the observed job.
func (h *Handle[S]) JobID() string { return h.jobID }

// Updates returns intermediate statuses. Only the newest undelivered
// status is retained. The channel is closed when the poll ends.
func (h *Handle[S]) Updates() <-chan S { return h.updates }

// Done returns a channel closed once the poll has ended and its
// outcome is available.
func (h *Handle[S]) Done() <-chan struct{} { return h.done }

// Outcome blocks until the poll ends and returns its final result.
func (h *Handle[S]) Outcome() Outcome[S] {
	<-h.done
	return h.outcome
}

// Cancel stops the poll and is idempotent. Calling it after the poll
// has already ended is a no-op.
func (h *Handle[S]) Cancel() { h.cancel() }

func (h *Handle[S]) run(ctx context.Context, fetch FetchFunc[S], isDone DoneFunc[S], opts Options) {
	defer close(h.done)
	defer close(h.updates)
	defer h.cancel()

	logger := opts.Logger.With().Str("job_id", h.jobID).Logger()
	start := time.Now()

	// Cancellation may win the race against this goroutine starting. A
	// poll cancelled before its first tick must never fetch.
	if ctx.Err() != nil {
		h.outcome = Outcome[S]{Err: context.Canceled}
		return
	}

	deadline := time.NewTimer(opts.MaxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		status, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				h.outcome = Outcome[S]{Err: context.Canceled}
				return
			}
			logger.Warn().Err(err).
				Dur("elapsed", time.Since(start)).
				Msg("status fetch failed, poll stopped")
			h.outcome = Outcome[S]{Err: err}
			return
		}

		h.push(status)

		if isDone(status) {
			logger.Debug().
				Dur("elapsed", time.Since(start)).
				Msg("job reached terminal status")
			h.outcome = Outcome[S]{Status: status}
			return
		}

		select {
		case <-ctx.Done():
			logger.Debug().Msg("poll cancelled")
			h.outcome = Outcome[S]{Status: status, Err: context.Canceled}
			return
		case <-deadline.C:
			logger.Warn().
				Dur("elapsed", time.Since(start)).
				Msg("job observation window elapsed")
			h.outcome = Outcome[S]{Status: status, Err: h.timeoutErr(start)}
			return
		case <-ticker.C:
			// The ticker and the deadline can fire in the same select
			// round. No fetch may start past the window, so the
			// deadline wins the tie.
			select {
			case <-deadline.C:
				h.outcome = Outcome[S]{Status: status, Err: h.timeoutErr(start)}
				return
			default:
			}
		}
	}
}

func (h *Handle[S]) timeoutErr(start time.Time) error {
	return &domain.PollTimeoutError{JobID: h.jobID, Elapsed: time.Since(start)}
}

// push delivers a status without blocking. When the consumer has not
// drained the previous update, the stale one is dropped so the newest
// status wins.
func (h *Handle[S]) push(status S) {
	for {
		select {
		case h.updates <- status:
			return
		default:
		}
		select {
		case <-h.updates:
		default:
		}
	}
}

// OutcomeLabel buckets an outcome error for metrics: completed,
// timeout, cancelled, transport, or failed.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrPollTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	default:
		return "failed"
	}
}
