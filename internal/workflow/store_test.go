package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
)

// testMetrics is shared by every test in this package. Assertions on
// counters work with before/after deltas, never absolute values.
var testMetrics = observability.NewMetrics("test_workflow")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zerolog.Nop(), testMetrics)
}

func mustApply(t *testing.T, store *Store, event domain.Event) Applied {
	t.Helper()
	applied, err := store.Apply(event)
	require.NoError(t, err)
	return applied
}

func driveToSearching(t *testing.T, store *Store) {
	t.Helper()
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})
	mustApply(t, store, domain.ClassificationCompleted{Intent: domain.IntentNeedsSearch})
	mustApply(t, store, domain.SearchApproved{})
}

func driveToGenerating(t *testing.T, store *Store) {
	t.Helper()
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})
	mustApply(t, store, domain.ClassificationCompleted{Intent: domain.IntentDirectAnswer})
}

func TestStore_InitialState(t *testing.T) {
	store := newTestStore(t)

	snapshot := store.Snapshot()
	assert.Equal(t, domain.StageIdle, snapshot.Stage)
	assert.Zero(t, snapshot.StageSeq)
	assert.Zero(t, store.Seq())
}

func TestStore_Apply_BumpsSeqOnStageChange(t *testing.T) {
	store := newTestStore(t)

	applied := mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})

	assert.Equal(t, domain.StageClassifying, applied.State.Stage)
	assert.Equal(t, uint64(1), applied.State.StageSeq)
	assert.Equal(t, EffectClassify, applied.Effect)
	assert.Equal(t, uint64(1), store.Seq())
	assert.False(t, applied.State.UpdatedAt.IsZero())
}

func TestStore_Apply_ProgressKeepsSeq(t *testing.T) {
	store := newTestStore(t)
	driveToGenerating(t, store)
	seq := store.Seq()

	applied := mustApply(t, store, domain.GenerationProgress{Pct: 40})
	assert.Equal(t, domain.StageGeneratingAnswer, applied.State.Stage)
	assert.Equal(t, seq, applied.State.StageSeq, "same-stage updates must not bump the seq")
	assert.Equal(t, 40, applied.State.GenerationProgress)

	applied = mustApply(t, store, domain.GenerationCompleted{Answer: "Refunds are accepted within 30 days."})
	assert.Equal(t, domain.StageCompleted, applied.State.Stage)
	assert.Equal(t, seq+1, applied.State.StageSeq)
}

func TestStore_Apply_IllegalEventLeavesStateUntouched(t *testing.T) {
	store := newTestStore(t)
	before := store.Snapshot()

	_, err := store.Apply(domain.SearchApproved{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, before, store.Snapshot())
}

func TestStore_ApplyAt_MatchingSeqApplies(t *testing.T) {
	store := newTestStore(t)
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})
	seq := store.Seq()

	applied, err := store.ApplyAt(seq, domain.ClassificationCompleted{Intent: domain.IntentNeedsSearch})
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingSearchApproval, applied.State.Stage)
}

func TestStore_ApplyAt_StaleSeqDiscards(t *testing.T) {
	store := newTestStore(t)
	driveToSearching(t, store)
	issuedAt := store.Seq()

	// The workflow faults while the search result is in flight.
	mustApply(t, store, domain.Fault{Message: "the request took too long"})
	before := store.Snapshot()
	staleBefore := testutil.ToFloat64(testMetrics.StaleResponses)

	_, err := store.ApplyAt(issuedAt, domain.SearchCompleted{
		Documents: []domain.DocumentMatch{{ID: "d1", Filename: "policy.pdf", Similarity: 0.92}},
	})

	require.Error(t, err)
	var stale *domain.StaleResponseError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, issuedAt, stale.Seq)
	assert.Equal(t, store.Seq(), stale.Current)
	assert.Equal(t, domain.EventSearchCompleted, stale.Event)

	assert.Equal(t, before, store.Snapshot(), "a stale response must not touch the state")
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(testMetrics.StaleResponses))
}

func TestStore_ApplyAt_AppliesOnlyAtIssuingSeq(t *testing.T) {
	store := newTestStore(t)
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})
	seq := store.Seq()

	for _, wrong := range []uint64{seq - 1, seq + 1, seq + 10} {
		_, err := store.ApplyAt(wrong, domain.ClassificationCompleted{Intent: domain.IntentDirectAnswer})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "seq %d must be rejected", wrong)
	}
	assert.Equal(t, domain.StageClassifying, store.Snapshot().Stage)

	_, err := store.ApplyAt(seq, domain.ClassificationCompleted{Intent: domain.IntentDirectAnswer})
	require.NoError(t, err)
	assert.Equal(t, domain.StageGeneratingAnswer, store.Snapshot().Stage)
}

func TestStore_Subscribe_DeliversSnapshots(t *testing.T) {
	store := newTestStore(t)
	updates, cancel := store.Subscribe()
	defer cancel()

	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})

	select {
	case snapshot := <-updates:
		assert.Equal(t, domain.StageClassifying, snapshot.Stage)
		assert.Equal(t, "What is the refund policy?", snapshot.Question)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a snapshot")
	}
}

func TestStore_Subscribe_CancelStopsDelivery(t *testing.T) {
	store := newTestStore(t)
	updates, cancel := store.Subscribe()

	cancel()
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the refund policy?"})

	_, open := <-updates
	assert.False(t, open, "cancelled subscription must be closed")

	// Cancelling twice is harmless.
	cancel()
}

func TestStore_Subscribe_SlowSubscriberKeepsNewest(t *testing.T) {
	store := newTestStore(t)
	updates, cancel := store.Subscribe()
	defer cancel()

	// Bounce between clarification and classification to generate more
	// stage changes than the subscriber buffer holds.
	mustApply(t, store, domain.SubmitQuestion{Question: "What is the policy?"})
	for i := 0; i < subscriberBuffer; i++ {
		mustApply(t, store, domain.ClassificationCompleted{
			Intent:                domain.IntentAmbiguous,
			ClarificationQuestion: "Which policy?",
		})
		mustApply(t, store, domain.ClarificationSubmitted{Text: "refund"})
	}
	mustApply(t, store, domain.ClassificationCompleted{Intent: domain.IntentDirectAnswer})

	var last domain.WorkflowState
	received := 0
drain:
	for {
		select {
		case snapshot := <-updates:
			last = snapshot
			received++
		default:
			break drain
		}
	}

	assert.LessOrEqual(t, received, subscriberBuffer)
	assert.Equal(t, domain.StageGeneratingAnswer, last.Stage, "the newest snapshot must survive")
	assert.Equal(t, store.Seq(), last.StageSeq)
}

func TestStore_Close(t *testing.T) {
	store := newTestStore(t)
	updates, cancel := store.Subscribe()
	defer cancel()

	store.Close()

	_, open := <-updates
	assert.False(t, open, "close must close subscriber channels")

	_, err := store.Apply(domain.SubmitQuestion{Question: "anyone there?"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	_, err = store.ApplyAt(0, domain.SubmitQuestion{Question: "anyone there?"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	late, lateCancel := store.Subscribe()
	defer lateCancel()
	_, open = <-late
	assert.False(t, open, "subscriptions after close are born closed")

	store.Close()
}

func TestStore_ConcurrentApplyAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	driveToGenerating(t, store)
	seq := store.Seq()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(pct int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Apply(domain.GenerationProgress{Pct: pct})
				_ = store.Snapshot()
			}
		}(i * 10)
	}
	wg.Wait()

	snapshot := store.Snapshot()
	assert.Equal(t, domain.StageGeneratingAnswer, snapshot.Stage)
	assert.Equal(t, seq, snapshot.StageSeq)
}
