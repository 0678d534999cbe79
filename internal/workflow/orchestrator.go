package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/backend"
	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
	"github.com/documind/qa-orchestrator/internal/poller"
)

// jobKind labels the background job a polling stage owns. It doubles
// as the job label on poll metrics.
type jobKind string

const (
	jobSearch      jobKind = "search"
	jobDetailQuery jobKind = "detail_query"
	jobGeneration  jobKind = "generation"
)

// pollHandle is the part of a poll the orchestrator tracks across job
// kinds. Concrete handles are generic over their status type.
type pollHandle interface {
	Cancel()
}

// Config configures an Orchestrator.
type Config struct {
	// SessionID identifies the session in logs. A random ID is
	// generated when empty.
	SessionID string

	// Backend is the document service client. Required.
	Backend backend.Client

	// PollInterval is the delay between job status fetches. Defaults
	// to poller.DefaultInterval if zero.
	PollInterval time.Duration

	// PollMaxDuration bounds how long a job is observed. Defaults to
	// poller.DefaultMaxDuration if zero.
	PollMaxDuration time.Duration

	// Logger is the base logger. Session context is attached to it.
	Logger zerolog.Logger

	// Metrics receives workflow and poll measurements. Required.
	Metrics *observability.Metrics
}

// Orchestrator drives one question-answering session. User actions
// come in through its methods, asynchronous results come back from
// the document service, and every change flows through the session's
// store as an event. Responses issued for a superseded stage are
// discarded by the store's seq guard, so the visible state never
// regresses.
type Orchestrator struct {
	id      string
	store   *Store
	backend backend.Client
	logger  zerolog.Logger
	metrics *observability.Metrics

	pollInterval    time.Duration
	pollMaxDuration time.Duration

	// ctx bounds every backend call and poll of this session.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	polls      map[jobKind]pollHandle
	questionAt time.Time

	closeOnce sync.Once
}

// New creates an orchestrator whose lifetime is bounded by ctx.
func New(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	if cfg.PollMaxDuration <= 0 {
		cfg.PollMaxDuration = poller.DefaultMaxDuration
	}

	logger := observability.WithSessionContext(cfg.Logger, cfg.SessionID)
	sessionCtx, cancel := context.WithCancel(ctx)

	return &Orchestrator{
		id:              cfg.SessionID,
		store:           NewStore(logger, cfg.Metrics),
		backend:         cfg.Backend,
		logger:          logger,
		metrics:         cfg.Metrics,
		pollInterval:    cfg.PollInterval,
		pollMaxDuration: cfg.PollMaxDuration,
		ctx:             sessionCtx,
		cancel:          cancel,
		polls:           make(map[jobKind]pollHandle),
	}
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string {
	return o.id
}

// Snapshot returns a copy of the current workflow state.
func (o *Orchestrator) Snapshot() domain.WorkflowState {
	return o.store.Snapshot()
}

// Subscribe streams state snapshots. See Store.Subscribe.
func (o *Orchestrator) Subscribe() (<-chan domain.WorkflowState, func()) {
	return o.store.Subscribe()
}

// SubmitQuestion starts a new workflow for the question. Legal from
// the idle, completed, and error stages.
func (o *Orchestrator) SubmitQuestion(question string) (domain.WorkflowState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.WorkflowState{}, domain.NewValidationError("question", "must not be empty")
	}

	o.mu.Lock()
	o.questionAt = time.Now()
	o.mu.Unlock()

	state, err := o.apply(domain.SubmitQuestion{Question: question})
	if err == nil {
		o.metrics.RecordQuestionSubmitted()
	}
	return state, err
}

// SubmitClarification answers a pending clarification question.
func (o *Orchestrator) SubmitClarification(text string) (domain.WorkflowState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.WorkflowState{}, domain.NewValidationError("text", "must not be empty")
	}
	return o.apply(domain.ClarificationSubmitted{Text: text})
}

// ChooseQuickResponse picks one of the suggested clarification
// responses.
func (o *Orchestrator) ChooseQuickResponse(text string) (domain.WorkflowState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.WorkflowState{}, domain.NewValidationError("text", "must not be empty")
	}
	return o.apply(domain.QuickResponseChosen{Text: text})
}

// ApproveSearch lets the proposed document search run.
func (o *Orchestrator) ApproveSearch() (domain.WorkflowState, error) {
	return o.apply(domain.SearchApproved{})
}

// SkipSearch declines the proposed search and generates an answer
// without documents.
func (o *Orchestrator) SkipSearch() (domain.WorkflowState, error) {
	return o.apply(domain.SearchSkipped{})
}

// ConfirmDocuments accepts the found documents and starts generation.
func (o *Orchestrator) ConfirmDocuments() (domain.WorkflowState, error) {
	return o.apply(domain.DocumentsConfirmed{})
}

// RequestMoreSearch runs the search again for more documents.
func (o *Orchestrator) RequestMoreSearch() (domain.WorkflowState, error) {
	return o.apply(domain.MoreSearchRequested{})
}

// ApproveDetailQuery lets the proposed detail query run.
func (o *Orchestrator) ApproveDetailQuery() (domain.WorkflowState, error) {
	return o.apply(domain.DetailQueryApproved{})
}

// SkipDetailQuery declines the detail query and generates from the
// documents already found.
func (o *Orchestrator) SkipDetailQuery() (domain.WorkflowState, error) {
	return o.apply(domain.DetailQuerySkipped{})
}

// Close tears the session down: in-flight calls and polls are
// cancelled, their goroutines drained, and the store closed.
// Idempotent.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		o.wg.Wait()
		o.store.Close()
		o.logger.Info().Msg("session closed")
	})
}

// apply runs a user event against the store and launches any side
// effect it requests.
func (o *Orchestrator) apply(event domain.Event) (domain.WorkflowState, error) {
	applied, err := o.store.Apply(event)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	o.dispatch(applied)
	return applied.State, nil
}

// applyGuarded lands an asynchronous result under the seq guard and
// launches any follow-up effect. It reports whether the event was
// applied; stale and illegal results are discarded without touching
// the state.
func (o *Orchestrator) applyGuarded(seq uint64, event domain.Event) bool {
	applied, err := o.store.ApplyAt(seq, event)
	if err != nil {
		o.logger.Debug().Err(err).Str("event", string(event.Kind())).Msg("async result discarded")
		return false
	}
	o.dispatch(applied)
	return true
}

// dispatch launches the side effect a transition requested. The
// goroutine carries the stage seq the effect was issued at; anything
// it reports back goes through applyGuarded with that seq.
func (o *Orchestrator) dispatch(applied Applied) {
	if applied.Effect == EffectNone {
		return
	}

	seq := applied.State.StageSeq
	state := applied.State

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		switch applied.Effect {
		case EffectClassify:
			o.classify(seq, state)
		case EffectStartSearch:
			o.runSearch(seq, state)
		case EffectStartDetailQuery:
			o.runDetailQuery(seq, state)
		case EffectStartGeneration:
			o.runGeneration(seq, state)
		}
	}()
}

func (o *Orchestrator) classify(seq uint64, state domain.WorkflowState) {
	result, err := o.backend.Classify(o.ctx, state.Question)
	if err != nil {
		o.fault(seq, err)
		return
	}

	o.applyGuarded(seq, domain.ClassificationCompleted{
		Intent:                result.Intent,
		ClarificationQuestion: result.Clarification,
		SuggestedResponses:    result.SuggestedResponses,
		SearchPreview:         result.SearchPreview,
	})
}

func (o *Orchestrator) runSearch(seq uint64, state domain.WorkflowState) {
	var hints []string
	if state.SearchPreview != nil && state.SearchPreview.WillUseRewrite && state.SearchPreview.AIUnderstanding != "" {
		hints = []string{state.SearchPreview.AIUnderstanding}
	}

	jobID, err := o.backend.StartSearch(o.ctx, state.Question, hints)
	if err != nil {
		o.fault(seq, err)
		return
	}

	fetch := func(ctx context.Context) (backend.SearchJobStatus, error) {
		o.metrics.RecordPollFetch(string(jobSearch))
		return o.backend.SearchStatus(ctx, jobID)
	}
	pollStart := time.Now()
	handle := startPoll(o, jobSearch, jobID, fetch, func(s backend.SearchJobStatus) bool {
		return s.Status.IsTerminal()
	})

	outcome := handle.Outcome()
	o.recordPollOutcome(jobSearch, pollStart, outcome.Err)
	if outcome.Err != nil {
		o.fault(seq, outcome.Err)
		return
	}
	if outcome.Status.Status == domain.JobStatusFailed {
		o.fault(seq, domain.NewJobFailedError(jobID, outcome.Status.ErrorMessage))
		return
	}

	o.applyGuarded(seq, domain.SearchCompleted{
		Documents:        outcome.Status.Documents,
		NeedsDetailQuery: outcome.Status.NeedsDetailQuery,
		DetailQueryType:  outcome.Status.DetailQueryType,
	})
}

func (o *Orchestrator) runDetailQuery(seq uint64, state domain.WorkflowState) {
	queryType := DefaultDetailQueryType
	if state.DetailQueryTargets != nil && state.DetailQueryTargets.QueryType != "" {
		queryType = state.DetailQueryTargets.QueryType
	}

	jobID, err := o.backend.StartDetailQuery(o.ctx, state.DocumentIDs(), queryType)
	if err != nil {
		o.fault(seq, err)
		return
	}

	fetch := func(ctx context.Context) (backend.DetailQueryJobStatus, error) {
		o.metrics.RecordPollFetch(string(jobDetailQuery))
		return o.backend.DetailQueryStatus(ctx, jobID)
	}
	pollStart := time.Now()
	handle := startPoll(o, jobDetailQuery, jobID, fetch, func(s backend.DetailQueryJobStatus) bool {
		return s.Status.IsTerminal()
	})

	outcome := handle.Outcome()
	o.recordPollOutcome(jobDetailQuery, pollStart, outcome.Err)
	if outcome.Err != nil {
		o.fault(seq, outcome.Err)
		return
	}
	if outcome.Status.Status == domain.JobStatusFailed {
		o.fault(seq, domain.NewJobFailedError(jobID, outcome.Status.ErrorMessage))
		return
	}

	o.applyGuarded(seq, domain.DetailQueryCompleted{})
}

func (o *Orchestrator) runGeneration(seq uint64, state domain.WorkflowState) {
	genCtx := backend.GenerationContext{
		Question:    state.Question,
		DocumentIDs: state.DocumentIDs(),
	}
	if state.DetailQueryTargets != nil {
		genCtx.QueryType = state.DetailQueryTargets.QueryType
	}
	if len(genCtx.DocumentIDs) == 0 {
		genCtx.SearchSkipped = true
	}

	jobID, err := o.backend.StartGeneration(o.ctx, genCtx)
	if err != nil {
		o.fault(seq, err)
		return
	}

	fetch := func(ctx context.Context) (backend.GenerationJobStatus, error) {
		o.metrics.RecordPollFetch(string(jobGeneration))
		return o.backend.GenerationStatus(ctx, jobID)
	}
	pollStart := time.Now()
	handle := startPoll(o, jobGeneration, jobID, fetch, func(s backend.GenerationJobStatus) bool {
		return s.Status.IsTerminal()
	})

	// Intermediate statuses feed progress into the state while the
	// poll runs. The updates channel closes when the poll ends.
	for status := range handle.Updates() {
		if status.ProgressPct != nil && !status.Status.IsTerminal() {
			o.applyGuarded(seq, domain.GenerationProgress{Pct: *status.ProgressPct})
		}
	}

	outcome := handle.Outcome()
	o.recordPollOutcome(jobGeneration, pollStart, outcome.Err)
	if outcome.Err != nil {
		o.fault(seq, outcome.Err)
		return
	}
	if outcome.Status.Status == domain.JobStatusFailed {
		o.fault(seq, domain.NewJobFailedError(jobID, outcome.Status.ErrorMessage))
		return
	}

	if o.applyGuarded(seq, domain.GenerationCompleted{Answer: outcome.Status.Answer}) {
		o.metrics.RecordWorkflowCompleted(o.sinceQuestion())
	}
}

// startPoll launches a bounded poll for a job and registers its
// handle under the job kind, cancelling any prior poll of that kind.
// A free function because methods cannot carry type parameters.
func startPoll[S any](o *Orchestrator, kind jobKind, jobID string, fetch poller.FetchFunc[S], isDone poller.DoneFunc[S]) *poller.Handle[S] {
	handle := poller.Start(o.ctx, fetch, isDone, poller.Options{
		Interval:    o.pollInterval,
		MaxDuration: o.pollMaxDuration,
		JobID:       jobID,
		Logger:      observability.WithJobContext(o.logger, jobID, string(kind)),
	})
	o.track(kind, handle)
	return handle
}

// track remembers the live poll for a job kind. At most one poll per
// kind runs at a time; a restart cancels the previous one.
func (o *Orchestrator) track(kind jobKind, handle pollHandle) {
	o.mu.Lock()
	prior := o.polls[kind]
	o.polls[kind] = handle
	o.mu.Unlock()

	if prior != nil {
		prior.Cancel()
	}
}

func (o *Orchestrator) recordPollOutcome(kind jobKind, started time.Time, err error) {
	o.metrics.RecordPollOutcome(string(kind), poller.OutcomeLabel(err), time.Since(started).Seconds())
}

// fault lands an asynchronous failure on the error stage, unless the
// failure came from session teardown. The fault carries the seq of
// the stage that issued the failing work, so a fault from a
// superseded stage is discarded like any other stale response.
func (o *Orchestrator) fault(seq uint64, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrSessionClosed) {
		return
	}

	kind := faultKind(err)
	o.logger.Warn().Err(err).Uint64("stage_seq", seq).Str("fault_kind", kind).Msg("workflow fault")

	if o.applyGuarded(seq, domain.Fault{Message: domain.FaultMessage(err)}) {
		o.metrics.RecordWorkflowFaulted(kind, o.sinceQuestion())
	}
}

func faultKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrPollTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	case errors.Is(err, domain.ErrJobFailed):
		return "job_failed"
	default:
		return "other"
	}
}

// sinceQuestion returns seconds elapsed since the last question, or
// zero when none was submitted.
func (o *Orchestrator) sinceQuestion() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.questionAt.IsZero() {
		return 0
	}
	return time.Since(o.questionAt).Seconds()
}
