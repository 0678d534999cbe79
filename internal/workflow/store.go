package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
)

// subscriberBuffer is the per-subscriber snapshot backlog. A slow
// subscriber loses older snapshots, never the newest one.
const subscriberBuffer = 8

// Applied describes one successfully applied event.
type Applied struct {
	// State is a snapshot of the workflow state after the event.
	State domain.WorkflowState

	// Effect is the side effect the transition requested, if any.
	Effect SideEffect
}

// Store owns the workflow state of a single session. All reads and
// writes go through it; callers never hold a mutable reference to the
// live state. Events are the only way to change it.
//
// Each session gets its own Store. Stores are never shared.
type Store struct {
	mu          sync.Mutex
	state       domain.WorkflowState
	subscribers map[int]chan domain.WorkflowState
	nextSubID   int
	closed      bool

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewStore creates a store holding a fresh idle workflow state.
func NewStore(logger zerolog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		state:       domain.NewWorkflowState(),
		subscribers: make(map[int]chan domain.WorkflowState),
		logger:      logger,
		metrics:     metrics,
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Seq returns the current stage sequence number.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.StageSeq
}

// Apply runs an event through the transition engine against the
// current state. Illegal events return *domain.InvalidTransitionError
// and leave the state untouched.
func (s *Store) Apply(event domain.Event) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Applied{}, domain.ErrSessionClosed
	}
	return s.applyLocked(event)
}

// ApplyAt applies an event only if the stage seq still matches the
// one the caller observed when it issued the work. A mismatch means
// the workflow moved on and the result is stale; it is counted,
// logged, and discarded without touching the state.
func (s *Store) ApplyAt(seq uint64, event domain.Event) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Applied{}, domain.ErrSessionClosed
	}

	if seq != s.state.StageSeq {
		s.metrics.RecordStaleResponse()
		s.logger.Debug().
			Str("event", string(event.Kind())).
			Uint64("issued_at_seq", seq).
			Uint64("current_seq", s.state.StageSeq).
			Msg("discarded stale response")
		return Applied{}, &domain.StaleResponseError{Seq: seq, Current: s.state.StageSeq, Event: event.Kind()}
	}
	return s.applyLocked(event)
}

func (s *Store) applyLocked(event domain.Event) (Applied, error) {
	result, err := Transition(s.state, event)
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			s.metrics.RecordInvalidTransition(string(invalid.Stage), string(invalid.Event))
			s.logger.Warn().
				Str("stage", string(invalid.Stage)).
				Str("event", string(invalid.Event)).
				Msg("discarded illegal event")
		}
		return Applied{}, err
	}

	prevStage := s.state.Stage
	next := result.Next
	next.StageSeq = s.state.StageSeq
	if next.Stage != prevStage {
		next.StageSeq++
		s.metrics.RecordStageTransition(string(prevStage), string(next.Stage))
		s.logger.Info().
			Str("from_stage", string(prevStage)).
			Str("to_stage", string(next.Stage)).
			Uint64("stage_seq", next.StageSeq).
			Str("event", string(event.Kind())).
			Msg("stage transition")
	} else {
		s.logger.Debug().
			Str("stage", string(next.Stage)).
			Str("event", string(event.Kind())).
			Msg("state updated")
	}
	next.UpdatedAt = time.Now()
	s.state = next

	s.notifyLocked()
	return Applied{State: s.state.Clone(), Effect: result.Effect}, nil
}

// Subscribe registers a listener for state snapshots. Every applied
// event delivers one snapshot. The returned cancel func drops the
// subscription; the channel also closes when the store closes.
func (s *Store) Subscribe() (<-chan domain.WorkflowState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.WorkflowState, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) notifyLocked() {
	snapshot := s.state.Clone()
	for _, ch := range s.subscribers {
		pushSnapshot(ch, snapshot)
	}
}

// pushSnapshot delivers without blocking. When the subscriber's
// buffer is full the oldest snapshot is dropped so the newest always
// lands.
func pushSnapshot(ch chan domain.WorkflowState, snapshot domain.WorkflowState) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Close marks the store closed and closes all subscriber channels.
// Later applies return domain.ErrSessionClosed. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
