// Package workflow implements the question-answering workflow: the
// pure transition engine, the per-session state store, the
// orchestrator that executes side effects against the document
// service, and the session registry.
package workflow

import (
	"github.com/documind/qa-orchestrator/internal/domain"
)

// DefaultDetailQueryType is used when a search result requests a
// detail query without naming a query type.
const DefaultDetailQueryType = "full_text"

// SideEffect names the backend operation a transition requires. The
// engine only requests effects; the orchestrator executes them.
type SideEffect string

const (
	// EffectNone means the transition completes without a backend call.
	EffectNone SideEffect = ""

	// EffectClassify requests classification of the current question.
	EffectClassify SideEffect = "classify"

	// EffectStartSearch requests a document search job.
	EffectStartSearch SideEffect = "start_search"

	// EffectStartDetailQuery requests a detail query job over the
	// found documents.
	EffectStartDetailQuery SideEffect = "start_detail_query"

	// EffectStartGeneration requests an answer generation job.
	EffectStartGeneration SideEffect = "start_generation"
)

// Result is the outcome of a legal transition.
type Result struct {
	// Next is the state after the event. StageSeq and UpdatedAt are
	// stamped by the store, not by the engine.
	Next domain.WorkflowState

	// Effect is the backend operation the transition requires, if any.
	Effect SideEffect
}

// Transition applies an event to a workflow state. It is a pure
// function: no I/O, no clock reads, no mutation of the input. An
// illegal (stage, event) pair returns *domain.InvalidTransitionError
// and a zero Result; callers keep their state unchanged.
func Transition(state domain.WorkflowState, event domain.Event) (Result, error) {
	// Faults are legal from every stage.
	if fault, ok := event.(domain.Fault); ok {
		next := state
		next.Stage = domain.StageError
		next.ErrorMessage = fault.Message
		return Result{Next: next}, nil
	}

	result, err := transition(state, event)
	if err != nil {
		return Result{}, err
	}

	// Leaving the error stage clears the stale message.
	if result.Next.Stage != domain.StageError {
		result.Next.ErrorMessage = ""
	}
	return result, nil
}

func transition(state domain.WorkflowState, event domain.Event) (Result, error) {
	switch state.Stage {
	case domain.StageIdle, domain.StageCompleted, domain.StageError:
		if submit, ok := event.(domain.SubmitQuestion); ok {
			return startQuestion(state, submit.Question), nil
		}

	case domain.StageClassifying:
		if completed, ok := event.(domain.ClassificationCompleted); ok {
			return classified(state, completed)
		}

	case domain.StageNeedClarification:
		switch ev := event.(type) {
		case domain.ClarificationSubmitted:
			return reclassify(state, ev.Text), nil
		case domain.QuickResponseChosen:
			return reclassify(state, ev.Text), nil
		}

	case domain.StageAwaitingSearchApproval:
		switch event.(type) {
		case domain.SearchApproved:
			next := state
			next.Stage = domain.StageSearchingDocuments
			return Result{Next: next, Effect: EffectStartSearch}, nil
		case domain.SearchSkipped:
			return startGeneration(state), nil
		}

	case domain.StageSearchingDocuments:
		if completed, ok := event.(domain.SearchCompleted); ok {
			return searchFinished(state, completed), nil
		}

	case domain.StageDocumentsFound:
		switch event.(type) {
		case domain.DocumentsConfirmed:
			return startGeneration(state), nil
		case domain.MoreSearchRequested:
			next := state
			next.Stage = domain.StageSearchingDocuments
			return Result{Next: next, Effect: EffectStartSearch}, nil
		}

	case domain.StageAwaitingDetailQueryApproval:
		switch event.(type) {
		case domain.DetailQueryApproved:
			next := state
			next.Stage = domain.StageQueryingDetails
			return Result{Next: next, Effect: EffectStartDetailQuery}, nil
		case domain.DetailQuerySkipped:
			return startGeneration(state), nil
		}

	case domain.StageQueryingDetails:
		if _, ok := event.(domain.DetailQueryCompleted); ok {
			return startGeneration(state), nil
		}

	case domain.StageGeneratingAnswer:
		switch ev := event.(type) {
		case domain.GenerationProgress:
			// Progress stays in the same stage. The store will not
			// bump the stage seq for it, so in-flight generation
			// results remain valid.
			next := state
			next.GenerationProgress = ev.Pct
			return Result{Next: next}, nil
		case domain.GenerationCompleted:
			next := state
			next.Stage = domain.StageCompleted
			next.Answer = ev.Answer
			next.GenerationProgress = 100
			return Result{Next: next}, nil
		}
	}

	return Result{}, &domain.InvalidTransitionError{Stage: state.Stage, Event: event.Kind()}
}

// startQuestion resets the workflow for a fresh question. The stage
// seq carries over so the store keeps its monotonic guarantee across
// resets.
func startQuestion(state domain.WorkflowState, question string) Result {
	next := domain.NewWorkflowState()
	next.StageSeq = state.StageSeq
	next.Stage = domain.StageClassifying
	next.Question = question
	return Result{Next: next, Effect: EffectClassify}
}

// reclassify folds the user's clarification into the question and
// sends it back through classification.
func reclassify(state domain.WorkflowState, text string) Result {
	next := state
	next.Stage = domain.StageClassifying
	if text != "" {
		next.Question = state.Question + "\n" + text
	}
	return Result{Next: next, Effect: EffectClassify}
}

func classified(state domain.WorkflowState, ev domain.ClassificationCompleted) (Result, error) {
	next := state
	switch ev.Intent {
	case domain.IntentAmbiguous:
		next.Stage = domain.StageNeedClarification
		next.ClarificationQuestion = ev.ClarificationQuestion
		next.SuggestedResponses = ev.SuggestedResponses
		return Result{Next: next}, nil

	case domain.IntentNeedsSearch:
		next.Stage = domain.StageAwaitingSearchApproval
		next.SearchPreview = ev.SearchPreview
		return Result{Next: next}, nil

	case domain.IntentDirectAnswer:
		return startGeneration(state), nil

	default:
		return Result{}, &domain.InvalidTransitionError{Stage: state.Stage, Event: ev.Kind()}
	}
}

// searchFinished lands search results. Matches that need a follow-up
// detail query go to the approval gate with proposed targets; plain
// results go straight to documents_found.
func searchFinished(state domain.WorkflowState, ev domain.SearchCompleted) Result {
	next := state
	next.FoundDocuments = ev.Documents

	if ev.NeedsDetailQuery {
		queryType := ev.DetailQueryType
		if queryType == "" {
			queryType = DefaultDetailQueryType
		}
		names := make([]string, 0, len(ev.Documents))
		for _, doc := range ev.Documents {
			names = append(names, doc.Filename)
		}
		next.Stage = domain.StageAwaitingDetailQueryApproval
		next.DetailQueryTargets = &domain.DetailQueryTargets{
			DocumentNames: names,
			QueryType:     queryType,
		}
		return Result{Next: next}
	}

	next.Stage = domain.StageDocumentsFound
	return Result{Next: next}
}

func startGeneration(state domain.WorkflowState) Result {
	next := state
	next.Stage = domain.StageGeneratingAnswer
	next.GenerationProgress = 0
	next.Answer = ""
	return Result{Next: next, Effect: EffectStartGeneration}
}
