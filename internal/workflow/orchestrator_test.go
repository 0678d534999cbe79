package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/qa-orchestrator/internal/backend"
	"github.com/documind/qa-orchestrator/internal/domain"
)

// fakeBackend implements backend.Client with per-test functions.
// Calls without a function installed report an error, which the
// orchestrator turns into a fault, so an unexpected call fails the
// test visibly instead of hanging it.
type fakeBackend struct {
	classifyFn         func(ctx context.Context, question string) (backend.ClassifyResult, error)
	startSearchFn      func(ctx context.Context, question string, rewriteHints []string) (string, error)
	searchStatusFn     func(ctx context.Context, jobID string) (backend.SearchJobStatus, error)
	startDetailFn      func(ctx context.Context, documentIDs []string, queryType string) (string, error)
	detailStatusFn     func(ctx context.Context, jobID string) (backend.DetailQueryJobStatus, error)
	startGenerationFn  func(ctx context.Context, genCtx backend.GenerationContext) (string, error)
	generationStatusFn func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error)
}

var _ backend.Client = (*fakeBackend)(nil)

func (f *fakeBackend) Classify(ctx context.Context, question string) (backend.ClassifyResult, error) {
	if f.classifyFn == nil {
		return backend.ClassifyResult{}, errors.New("unexpected Classify call")
	}
	return f.classifyFn(ctx, question)
}

func (f *fakeBackend) StartSearch(ctx context.Context, question string, rewriteHints []string) (string, error) {
	if f.startSearchFn == nil {
		return "", errors.New("unexpected StartSearch call")
	}
	return f.startSearchFn(ctx, question, rewriteHints)
}

func (f *fakeBackend) SearchStatus(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
	if f.searchStatusFn == nil {
		return backend.SearchJobStatus{}, errors.New("unexpected SearchStatus call")
	}
	return f.searchStatusFn(ctx, jobID)
}

func (f *fakeBackend) StartDetailQuery(ctx context.Context, documentIDs []string, queryType string) (string, error) {
	if f.startDetailFn == nil {
		return "", errors.New("unexpected StartDetailQuery call")
	}
	return f.startDetailFn(ctx, documentIDs, queryType)
}

func (f *fakeBackend) DetailQueryStatus(ctx context.Context, jobID string) (backend.DetailQueryJobStatus, error) {
	if f.detailStatusFn == nil {
		return backend.DetailQueryJobStatus{}, errors.New("unexpected DetailQueryStatus call")
	}
	return f.detailStatusFn(ctx, jobID)
}

func (f *fakeBackend) StartGeneration(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
	if f.startGenerationFn == nil {
		return "", errors.New("unexpected StartGeneration call")
	}
	return f.startGenerationFn(ctx, genCtx)
}

func (f *fakeBackend) GenerationStatus(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
	if f.generationStatusFn == nil {
		return backend.GenerationJobStatus{}, errors.New("unexpected GenerationStatus call")
	}
	return f.generationStatusFn(ctx, jobID)
}

func (f *fakeBackend) TriggerClustering(ctx context.Context) (string, error) {
	return "", errors.New("unexpected TriggerClustering call")
}

func (f *fakeBackend) ClusteringStatus(ctx context.Context, jobID string) (backend.ClusteringJobStatus, error) {
	return backend.ClusteringJobStatus{}, errors.New("unexpected ClusteringStatus call")
}

func (f *fakeBackend) DeleteClusters(ctx context.Context) error {
	return errors.New("unexpected DeleteClusters call")
}

// classifyNeedsSearch returns a classify function proposing a search.
func classifyNeedsSearch() func(ctx context.Context, question string) (backend.ClassifyResult, error) {
	return func(ctx context.Context, question string) (backend.ClassifyResult, error) {
		return backend.ClassifyResult{
			Intent: domain.IntentNeedsSearch,
			SearchPreview: &domain.SearchPreview{
				OriginalQuestion: question,
				AIUnderstanding:  "documents defining the refund policy",
				WillUseRewrite:   true,
			},
		}, nil
	}
}

func newTestOrchestrator(t *testing.T, fake *fakeBackend) *Orchestrator {
	t.Helper()
	orch := New(context.Background(), Config{
		SessionID:       "session-" + t.Name(),
		Backend:         fake,
		PollInterval:    5 * time.Millisecond,
		PollMaxDuration: 2 * time.Second,
		Logger:          zerolog.Nop(),
		Metrics:         testMetrics,
	})
	t.Cleanup(orch.Close)
	return orch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func waitForStage(t *testing.T, orch *Orchestrator, stage domain.WorkflowStage) domain.WorkflowState {
	t.Helper()
	waitFor(t, "stage "+string(stage), func() bool {
		return orch.Snapshot().Stage == stage
	})
	return orch.Snapshot()
}

func TestOrchestrator_SearchApprovalFlow(t *testing.T) {
	var (
		searchFetches atomic.Int32
		mu            sync.Mutex
		gotQuestion   string
		gotHints      []string
		gotGenCtx     backend.GenerationContext
	)

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			mu.Lock()
			gotQuestion = question
			gotHints = rewriteHints
			mu.Unlock()
			return "search-1", nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			if searchFetches.Add(1) == 1 {
				return backend.SearchJobStatus{Status: domain.JobStatusRunning}, nil
			}
			return backend.SearchJobStatus{
				Status: domain.JobStatusCompleted,
				Documents: []domain.DocumentMatch{
					{ID: "d1", Filename: "policy.pdf", Summary: "Refund rules", Similarity: 0.92},
				},
			}, nil
		},
		startGenerationFn: func(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
			mu.Lock()
			gotGenCtx = genCtx
			mu.Unlock()
			return "gen-1", nil
		},
		generationStatusFn: func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
			return backend.GenerationJobStatus{
				Status: domain.JobStatusCompleted,
				Answer: "Refunds are accepted within 30 days.",
			}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)

	proposal := waitForStage(t, orch, domain.StageAwaitingSearchApproval)
	require.NotNil(t, proposal.SearchPreview)
	assert.True(t, proposal.SearchPreview.WillUseRewrite)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)

	found := waitForStage(t, orch, domain.StageDocumentsFound)
	require.Len(t, found.FoundDocuments, 1)
	assert.Equal(t, "policy.pdf", found.FoundDocuments[0].Filename)
	assert.InDelta(t, 0.92, found.FoundDocuments[0].Similarity, 0.0001)
	assert.GreaterOrEqual(t, searchFetches.Load(), int32(2))

	mu.Lock()
	assert.Equal(t, "What is the refund policy?", gotQuestion)
	assert.Equal(t, []string{"documents defining the refund policy"}, gotHints)
	mu.Unlock()

	_, err = orch.ConfirmDocuments()
	require.NoError(t, err)

	completed := waitForStage(t, orch, domain.StageCompleted)
	assert.Equal(t, "Refunds are accepted within 30 days.", completed.Answer)
	assert.Equal(t, 100, completed.GenerationProgress)

	mu.Lock()
	assert.Equal(t, []string{"d1"}, gotGenCtx.DocumentIDs)
	assert.False(t, gotGenCtx.SearchSkipped)
	mu.Unlock()
}

func TestOrchestrator_SkipSearchFlow(t *testing.T) {
	var (
		mu        sync.Mutex
		gotGenCtx backend.GenerationContext
	)

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startGenerationFn: func(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
			mu.Lock()
			gotGenCtx = genCtx
			mu.Unlock()
			return "gen-1", nil
		},
		generationStatusFn: func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
			return backend.GenerationJobStatus{
				Status: domain.JobStatusCompleted,
				Answer: "Based on general knowledge, refunds usually take 30 days.",
			}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.SkipSearch()
	require.NoError(t, err)

	completed := waitForStage(t, orch, domain.StageCompleted)
	assert.NotEmpty(t, completed.Answer)
	assert.Empty(t, completed.FoundDocuments)

	mu.Lock()
	assert.True(t, gotGenCtx.SearchSkipped, "skipping search must be flagged for generation")
	assert.Empty(t, gotGenCtx.DocumentIDs)
	mu.Unlock()
}

func TestOrchestrator_DirectAnswerFlow(t *testing.T) {
	fake := &fakeBackend{
		classifyFn: func(ctx context.Context, question string) (backend.ClassifyResult, error) {
			return backend.ClassifyResult{Intent: domain.IntentDirectAnswer}, nil
		},
		startGenerationFn: func(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
			return "gen-1", nil
		},
		generationStatusFn: func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
			return backend.GenerationJobStatus{Status: domain.JobStatusCompleted, Answer: "Hello!"}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("Say hello")
	require.NoError(t, err)

	completed := waitForStage(t, orch, domain.StageCompleted)
	assert.Equal(t, "Hello!", completed.Answer)
}

func TestOrchestrator_ClarificationFlow(t *testing.T) {
	var classifyCalls atomic.Int32
	var mu sync.Mutex
	var secondQuestion string

	fake := &fakeBackend{
		classifyFn: func(ctx context.Context, question string) (backend.ClassifyResult, error) {
			if classifyCalls.Add(1) == 1 {
				return backend.ClassifyResult{
					Intent:             domain.IntentAmbiguous,
					Clarification:      "Which policy do you mean?",
					SuggestedResponses: []string{"refund policy", "privacy policy"},
				}, nil
			}
			mu.Lock()
			secondQuestion = question
			mu.Unlock()
			return classifyNeedsSearch()(ctx, question)
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the policy?")
	require.NoError(t, err)

	pending := waitForStage(t, orch, domain.StageNeedClarification)
	assert.Equal(t, "Which policy do you mean?", pending.ClarificationQuestion)
	assert.Equal(t, []string{"refund policy", "privacy policy"}, pending.SuggestedResponses)

	_, err = orch.SubmitClarification("the refund policy")
	require.NoError(t, err)

	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	mu.Lock()
	assert.Equal(t, "What is the policy?\nthe refund policy", secondQuestion,
		"clarification must fold into the reclassified question")
	mu.Unlock()
}

func TestOrchestrator_DetailQueryFlow(t *testing.T) {
	var (
		mu           sync.Mutex
		gotIDs       []string
		gotQueryType string
	)

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			return "search-1", nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			return backend.SearchJobStatus{
				Status: domain.JobStatusCompleted,
				Documents: []domain.DocumentMatch{
					{ID: "d1", Filename: "policy.pdf", Similarity: 0.92},
					{ID: "d2", Filename: "appendix.pdf", Similarity: 0.81},
				},
				NeedsDetailQuery: true,
				DetailQueryType:  "summary",
			}, nil
		},
		startDetailFn: func(ctx context.Context, documentIDs []string, queryType string) (string, error) {
			mu.Lock()
			gotIDs = documentIDs
			gotQueryType = queryType
			mu.Unlock()
			return "detail-1", nil
		},
		detailStatusFn: func(ctx context.Context, jobID string) (backend.DetailQueryJobStatus, error) {
			return backend.DetailQueryJobStatus{Status: domain.JobStatusCompleted}, nil
		},
		startGenerationFn: func(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
			return "gen-1", nil
		},
		generationStatusFn: func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
			return backend.GenerationJobStatus{Status: domain.JobStatusCompleted, Answer: "Summarized."}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("Summarize the refund rules")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)

	gate := waitForStage(t, orch, domain.StageAwaitingDetailQueryApproval)
	require.NotNil(t, gate.DetailQueryTargets)
	assert.Equal(t, []string{"policy.pdf", "appendix.pdf"}, gate.DetailQueryTargets.DocumentNames)
	assert.Equal(t, "summary", gate.DetailQueryTargets.QueryType)

	_, err = orch.ApproveDetailQuery()
	require.NoError(t, err)

	completed := waitForStage(t, orch, domain.StageCompleted)
	assert.Equal(t, "Summarized.", completed.Answer)

	mu.Lock()
	assert.Equal(t, []string{"d1", "d2"}, gotIDs)
	assert.Equal(t, "summary", gotQueryType)
	mu.Unlock()
}

func TestOrchestrator_MoreSearchRequested(t *testing.T) {
	var searchStarts atomic.Int32

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			return fmt.Sprintf("search-%d", searchStarts.Add(1)), nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			docs := []domain.DocumentMatch{{ID: "d1", Filename: "policy.pdf", Similarity: 0.92}}
			if searchStarts.Load() > 1 {
				docs = append(docs, domain.DocumentMatch{ID: "d2", Filename: "faq.pdf", Similarity: 0.77})
			}
			return backend.SearchJobStatus{Status: domain.JobStatusCompleted, Documents: docs}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)
	first := waitForStage(t, orch, domain.StageDocumentsFound)
	require.Len(t, first.FoundDocuments, 1)

	_, err = orch.RequestMoreSearch()
	require.NoError(t, err)

	waitFor(t, "second search result", func() bool {
		snapshot := orch.Snapshot()
		return snapshot.Stage == domain.StageDocumentsFound && len(snapshot.FoundDocuments) == 2
	})
	assert.Equal(t, int32(2), searchStarts.Load())
}

func TestOrchestrator_TransportFaultStopsPolling(t *testing.T) {
	var searchFetches atomic.Int32

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			return "search-1", nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			searchFetches.Add(1)
			return backend.SearchJobStatus{}, domain.NewTransportError("search_status", 0, errors.New("connection refused"))
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)

	failed := waitForStage(t, orch, domain.StageError)
	assert.Equal(t, "The document service could not be reached. Please try again.", failed.ErrorMessage)

	// A transport fault ends the poll. No retry ticks may follow.
	fetched := searchFetches.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetched, searchFetches.Load(), "transport faults must not be retried")
	assert.Equal(t, int32(1), fetched)
}

func TestOrchestrator_JobFailureFaults(t *testing.T) {
	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			return "search-1", nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			return backend.SearchJobStatus{
				Status:       domain.JobStatusFailed,
				ErrorMessage: "search index unavailable",
			}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)

	failed := waitForStage(t, orch, domain.StageError)
	assert.Equal(t, "search index unavailable", failed.ErrorMessage)

	// The error stage accepts a fresh question.
	_, err = orch.SubmitQuestion("What about shipping?")
	require.NoError(t, err)
}

func TestOrchestrator_StaleSearchResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	var fetchStarted atomic.Bool

	fake := &fakeBackend{
		classifyFn: classifyNeedsSearch(),
		startSearchFn: func(ctx context.Context, question string, rewriteHints []string) (string, error) {
			return "search-1", nil
		},
		searchStatusFn: func(ctx context.Context, jobID string) (backend.SearchJobStatus, error) {
			fetchStarted.Store(true)
			select {
			case <-release:
			case <-ctx.Done():
				return backend.SearchJobStatus{}, ctx.Err()
			}
			return backend.SearchJobStatus{
				Status:    domain.JobStatusCompleted,
				Documents: []domain.DocumentMatch{{ID: "d1", Filename: "policy.pdf"}},
			}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	waitForStage(t, orch, domain.StageAwaitingSearchApproval)

	_, err = orch.ApproveSearch()
	require.NoError(t, err)
	waitFor(t, "search fetch to start", fetchStarted.Load)

	// The workflow faults while the fetch is still in flight, which
	// bumps the stage seq past the one the search was issued at.
	_, err = orch.store.Apply(domain.Fault{Message: "injected fault"})
	require.NoError(t, err)

	staleBefore := testutil.ToFloat64(testMetrics.StaleResponses)
	close(release)

	waitFor(t, "stale search result to be discarded", func() bool {
		return testutil.ToFloat64(testMetrics.StaleResponses) > staleBefore
	})

	snapshot := orch.Snapshot()
	assert.Equal(t, domain.StageError, snapshot.Stage, "a late result must not resurrect the workflow")
	assert.Empty(t, snapshot.FoundDocuments)
}

func TestOrchestrator_GenerationProgress(t *testing.T) {
	progress := []int{30, 70}
	var generationFetches atomic.Int32

	fake := &fakeBackend{
		classifyFn: func(ctx context.Context, question string) (backend.ClassifyResult, error) {
			return backend.ClassifyResult{Intent: domain.IntentDirectAnswer}, nil
		},
		startGenerationFn: func(ctx context.Context, genCtx backend.GenerationContext) (string, error) {
			return "gen-1", nil
		},
		generationStatusFn: func(ctx context.Context, jobID string) (backend.GenerationJobStatus, error) {
			n := int(generationFetches.Add(1))
			if n <= len(progress) {
				pct := progress[n-1]
				return backend.GenerationJobStatus{Status: domain.JobStatusRunning, ProgressPct: &pct}, nil
			}
			return backend.GenerationJobStatus{Status: domain.JobStatusCompleted, Answer: "Done."}, nil
		},
	}
	orch := newTestOrchestrator(t, fake)

	updates, cancel := orch.Subscribe()
	defer cancel()

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)

	completed := waitForStage(t, orch, domain.StageCompleted)
	assert.Equal(t, "Done.", completed.Answer)
	assert.Equal(t, 100, completed.GenerationProgress)

	seen := map[int]bool{}
	var generatingSeq uint64
drain:
	for {
		select {
		case snapshot := <-updates:
			if snapshot.Stage == domain.StageGeneratingAnswer {
				seen[snapshot.GenerationProgress] = true
				if generatingSeq == 0 {
					generatingSeq = snapshot.StageSeq
				} else {
					assert.Equal(t, generatingSeq, snapshot.StageSeq,
						"progress updates must not bump the stage seq")
				}
			}
		default:
			break drain
		}
	}
	assert.True(t, seen[30], "expected a snapshot at 30 percent")
	assert.True(t, seen[70], "expected a snapshot at 70 percent")
}

func TestOrchestrator_RejectsIllegalUserEvents(t *testing.T) {
	fake := &fakeBackend{classifyFn: classifyNeedsSearch()}
	orch := newTestOrchestrator(t, fake)

	// Nothing submitted yet: approvals are meaningless in idle.
	_, err := orch.ApproveSearch()
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = orch.ConfirmDocuments()
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, domain.StageIdle, orch.Snapshot().Stage)
}

func TestOrchestrator_ValidatesUserInput(t *testing.T) {
	fake := &fakeBackend{}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = orch.SubmitClarification("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = orch.ChooseQuickResponse("\t\n")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, domain.StageIdle, orch.Snapshot().Stage)
}

func TestOrchestrator_CloseCancelsInflightWork(t *testing.T) {
	classifyStarted := make(chan struct{})

	fake := &fakeBackend{
		classifyFn: func(ctx context.Context, question string) (backend.ClassifyResult, error) {
			close(classifyStarted)
			<-ctx.Done()
			return backend.ClassifyResult{}, ctx.Err()
		},
	}
	orch := newTestOrchestrator(t, fake)

	_, err := orch.SubmitQuestion("What is the refund policy?")
	require.NoError(t, err)
	<-classifyStarted

	done := make(chan struct{})
	go func() {
		orch.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain in-flight work")
	}

	// Closing twice is harmless, and the session refuses new events.
	orch.Close()
	_, err = orch.SubmitQuestion("still there?")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
