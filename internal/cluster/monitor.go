// Package cluster manages document clustering runs on the document
// service: triggering a rebuild, observing the job until it reaches a
// terminal status, and the confirm-gated wipe of existing clusters.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/backend"
	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
	"github.com/documind/qa-orchestrator/internal/poller"
)

const (
	// DefaultPollInterval is the delay between clustering status fetches.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollMaxDuration bounds how long a clustering run is
	// observed. Clustering reprocesses the whole corpus, so the window
	// is much wider than the per-question job windows.
	DefaultPollMaxDuration = 30 * time.Minute

	// pollJobKind is the job label on clustering poll metrics.
	pollJobKind = "clustering"
)

// Run is a snapshot of the current or most recent clustering run.
type Run struct {
	// JobID identifies the run on the document service. Empty until
	// the first run is triggered.
	JobID string

	// Status is the last observed job status.
	Status domain.JobStatus

	// Processed and Total count documents worked through so far.
	Processed int
	Total     int

	// ClustersCreated is reported by the service once known.
	ClustersCreated int

	// ErrorMessage is set when the run failed or observation stopped.
	ErrorMessage string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Active reports whether a run is being observed right now.
func (r Run) Active() bool {
	return r.JobID != "" && r.FinishedAt.IsZero()
}

// Config configures a Monitor.
type Config struct {
	// Backend is the document service client. Required.
	Backend backend.Client

	// PollInterval is the delay between status fetches. Defaults to
	// DefaultPollInterval if zero.
	PollInterval time.Duration

	// PollMaxDuration bounds run observation. Defaults to
	// DefaultPollMaxDuration if zero.
	PollMaxDuration time.Duration

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Monitor owns clustering runs. At most one run is observed at a
// time; a second trigger while one is active is refused. The terminal
// outcome of a run is recorded exactly once.
type Monitor struct {
	backend backend.Client
	logger  zerolog.Logger
	metrics *observability.Metrics

	pollInterval    time.Duration
	pollMaxDuration time.Duration

	// ctx bounds run observation, which outlives the triggering request.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	starting  bool
	run       Run
	watchDone chan struct{}

	closeOnce sync.Once
}

// NewMonitor creates a Monitor whose observation lifetime is bounded
// by ctx.
func NewMonitor(ctx context.Context, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollMaxDuration <= 0 {
		cfg.PollMaxDuration = DefaultPollMaxDuration
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	return &Monitor{
		backend:         cfg.Backend,
		logger:          cfg.Logger.With().Str("component", "cluster_monitor").Logger(),
		metrics:         cfg.Metrics,
		pollInterval:    cfg.PollInterval,
		pollMaxDuration: cfg.PollMaxDuration,
		ctx:             monitorCtx,
		cancel:          cancel,
	}
}

// Current returns the run being observed, or the last finished one.
func (m *Monitor) Current() Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

// Rebuild triggers a clustering run and observes it in the background
// until it reaches a terminal status or the observation window
// elapses. Only one run may be active; domain.ErrRunInProgress is
// returned alongside the current run otherwise.
func (m *Monitor) Rebuild(ctx context.Context) (Run, error) {
	m.mu.Lock()
	if m.starting || m.run.Active() {
		current := m.run
		m.mu.Unlock()
		return current, fmt.Errorf("clustering run %s: %w", current.JobID, domain.ErrRunInProgress)
	}
	m.starting = true
	m.mu.Unlock()

	jobID, err := m.backend.TriggerClustering(ctx)
	if err != nil {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		return Run{}, err
	}

	started := time.Now()
	run := Run{JobID: jobID, Status: domain.JobStatusPending, StartedAt: started}

	fetch := func(ctx context.Context) (backend.ClusteringJobStatus, error) {
		m.metrics.RecordPollFetch(pollJobKind)
		return m.backend.ClusteringStatus(ctx, jobID)
	}
	handle := poller.Start(m.ctx, fetch, func(s backend.ClusteringJobStatus) bool {
		return s.Status.IsTerminal()
	}, poller.Options{
		Interval:    m.pollInterval,
		MaxDuration: m.pollMaxDuration,
		JobID:       jobID,
		Logger:      observability.WithJobContext(m.logger, jobID, pollJobKind),
	})

	watchDone := make(chan struct{})
	m.mu.Lock()
	m.starting = false
	m.run = run
	m.watchDone = watchDone
	m.mu.Unlock()

	m.metrics.RecordClusterRunStarted()
	m.logger.Info().Str("job_id", jobID).Msg("clustering run started")

	go m.watch(handle, started, watchDone)
	return run, nil
}

// watch folds status updates into the run and settles its terminal
// outcome. It is the only writer of FinishedAt, so the outcome
// metrics fire exactly once per run.
func (m *Monitor) watch(handle *poller.Handle[backend.ClusteringJobStatus], started time.Time, done chan struct{}) {
	defer close(done)

	for status := range handle.Updates() {
		m.mu.Lock()
		m.foldLocked(status)
		m.mu.Unlock()
	}

	outcome := handle.Outcome()
	elapsed := time.Since(started)
	m.metrics.RecordPollOutcome(pollJobKind, poller.OutcomeLabel(outcome.Err), elapsed.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.FinishedAt = time.Now()

	switch {
	case outcome.Err == nil:
		m.foldLocked(outcome.Status)
		if m.run.Status == domain.JobStatusCompleted {
			m.metrics.RecordClusterRunCompleted(elapsed.Seconds())
			m.logger.Info().
				Int("clusters_created", m.run.ClustersCreated).
				Int("documents_processed", m.run.Processed).
				Dur("elapsed", elapsed).
				Msg("clustering run completed")
		} else {
			m.metrics.RecordClusterRunFailed(elapsed.Seconds())
			m.logger.Warn().Str("error", m.run.ErrorMessage).Msg("clustering run failed")
		}

	case errors.Is(outcome.Err, context.Canceled):
		// Shutdown. The run was abandoned, not failed.
		m.logger.Info().Msg("clustering observation cancelled")

	default:
		m.run.Status = domain.JobStatusFailed
		m.run.ErrorMessage = domain.FaultMessage(outcome.Err)
		m.metrics.RecordClusterRunFailed(elapsed.Seconds())
		m.logger.Warn().Err(outcome.Err).Msg("clustering observation stopped")
	}
}

func (m *Monitor) foldLocked(status backend.ClusteringJobStatus) {
	m.run.Status = status.Status
	m.run.Processed = status.Processed
	m.run.Total = status.Total
	if status.ClustersCreated > 0 {
		m.run.ClustersCreated = status.ClustersCreated
	}
	if status.ErrorMessage != "" {
		m.run.ErrorMessage = status.ErrorMessage
	}
}

// DeleteClusters wipes every cluster on the document service. The
// caller must pass confirm=true, and a run in progress blocks the
// wipe.
func (m *Monitor) DeleteClusters(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("cluster wipe: %w", domain.ErrConfirmationRequired)
	}

	m.mu.Lock()
	active := m.starting || m.run.Active()
	m.mu.Unlock()
	if active {
		return fmt.Errorf("cluster wipe: %w", domain.ErrRunInProgress)
	}

	if err := m.backend.DeleteClusters(ctx); err != nil {
		return err
	}

	m.metrics.RecordClusterDeletion()
	m.logger.Info().Msg("clusters deleted")
	return nil
}

// Close stops observing and waits for the watcher to settle. Idempotent.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.mu.Lock()
		done := m.watchDone
		m.mu.Unlock()
		if done != nil {
			<-done
		}
	})
}
