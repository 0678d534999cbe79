package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
)

const (
	// DefaultSessionTTL is how long an untouched session survives.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultCleanupInterval is how often expired sessions are swept.
	DefaultCleanupInterval = 5 * time.Minute
)

// Factory builds the orchestrator for a new session.
type Factory func(sessionID string) *Orchestrator

// Registry owns the live sessions. Sessions idle past their TTL are
// evicted and torn down; any access refreshes the TTL.
type Registry struct {
	sessions *cache.Cache
	factory  Factory
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// SessionTTL is the idle lifetime of a session. Defaults to
	// DefaultSessionTTL if zero.
	SessionTTL time.Duration

	// CleanupInterval is the eviction sweep period. Defaults to
	// DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// Factory builds orchestrators for new sessions. Required.
	Factory Factory

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// NewRegistry creates a session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	r := &Registry{
		sessions: cache.New(cfg.SessionTTL, cfg.CleanupInterval),
		factory:  cfg.Factory,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	// Both explicit deletes and TTL sweeps land here.
	r.sessions.OnEvicted(func(sessionID string, value interface{}) {
		orch, ok := value.(*Orchestrator)
		if !ok {
			return
		}
		orch.Close()
		r.metrics.RecordSessionClosed()
		r.logger.Info().Str("session_id", sessionID).Msg("session evicted")
	})

	return r
}

// Create starts a new session and returns its orchestrator.
func (r *Registry) Create() *Orchestrator {
	orch := r.factory(uuid.New().String())
	r.sessions.SetDefault(orch.ID(), orch)
	r.metrics.RecordSessionStarted()
	r.logger.Info().Str("session_id", orch.ID()).Msg("session created")
	return orch
}

// Get returns the session and refreshes its idle TTL. Unknown or
// expired sessions return domain.ErrNotFound.
func (r *Registry) Get(sessionID string) (*Orchestrator, error) {
	value, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	orch := value.(*Orchestrator)
	// Re-setting the same value restarts the TTL without firing the
	// eviction handler.
	r.sessions.SetDefault(sessionID, orch)
	return orch, nil
}

// Delete tears down a session immediately.
func (r *Registry) Delete(sessionID string) error {
	if _, ok := r.sessions.Get(sessionID); !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	r.sessions.Delete(sessionID)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}

// Close tears down every session. The cache's Flush skips eviction
// handlers, so sessions are deleted one by one.
func (r *Registry) Close() {
	for sessionID := range r.sessions.Items() {
		r.sessions.Delete(sessionID)
	}
}
