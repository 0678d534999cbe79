package domain

import "time"

// SearchPreview describes how the document service understood a question
// before the user approves a search.
type SearchPreview struct {
	// OriginalQuestion is the question as the user typed it.
	OriginalQuestion string

	// AIUnderstanding is the service's reading of the question, shown
	// so the user can catch a misinterpretation before searching.
	AIUnderstanding string

	// WillUseRewrite indicates the search will run on a rewritten form
	// of the question rather than the original text.
	WillUseRewrite bool
}

// DocumentMatch is a single document returned by the search stage.
// Matches are immutable once received and keep the server's ranking
// order.
type DocumentMatch struct {
	ID         string
	Filename   string
	Summary    string
	Similarity float64
}

// DetailQueryTargets names the documents and query type proposed for a
// detail query.
type DetailQueryTargets struct {
	DocumentNames []string
	QueryType     string
}

// WorkflowState is the aggregate for one QA interaction. The workflow
// store owns the single live instance; everything else reads snapshots.
//
// Most fields carry data for a specific stage and go stale once the
// workflow moves on. Stale fields are not eagerly cleared, so a late
// render can still show them, but no transition reads a field owned by
// another stage.
type WorkflowState struct {
	// Stage is the single active workflow stage.
	Stage WorkflowStage

	// StageSeq increases by one on every stage change and never
	// otherwise. Asynchronous responses carry the seq of the stage
	// that issued them and are discarded once the workflow has moved
	// on.
	StageSeq uint64

	// Question is the active question, folded together with any
	// clarification the user supplied.
	Question string

	// ClarificationQuestion is what the service asked the user,
	// meaningful while the stage is need_clarification.
	ClarificationQuestion string

	// SuggestedResponses are one-tap answers to the clarification
	// question.
	SuggestedResponses []string

	// SearchPreview is set while the stage is awaiting_search_approval.
	SearchPreview *SearchPreview

	// FoundDocuments holds search results from documents_found onward.
	FoundDocuments []DocumentMatch

	// DetailQueryTargets is set while the stage is
	// awaiting_detail_query_approval.
	DetailQueryTargets *DetailQueryTargets

	// GenerationProgress is a 0 to 100 percentage, meaningful while
	// the stage is generating_answer.
	GenerationProgress int

	// Answer is the final generated answer, set on completed.
	Answer string

	// ErrorMessage is set while the stage is error and cleared by any
	// transition to a non-error stage.
	ErrorMessage string

	// UpdatedAt is the time of the last applied event.
	UpdatedAt time.Time
}

// NewWorkflowState returns the initial idle state.
func NewWorkflowState() WorkflowState {
	return WorkflowState{Stage: StageIdle}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	if s.SuggestedResponses != nil {
		out.SuggestedResponses = append([]string(nil), s.SuggestedResponses...)
	}
	if s.FoundDocuments != nil {
		out.FoundDocuments = append([]DocumentMatch(nil), s.FoundDocuments...)
	}
	if s.SearchPreview != nil {
		preview := *s.SearchPreview
		out.SearchPreview = &preview
	}
	if s.DetailQueryTargets != nil {
		targets := DetailQueryTargets{
			DocumentNames: append([]string(nil), s.DetailQueryTargets.DocumentNames...),
			QueryType:     s.DetailQueryTargets.QueryType,
		}
		out.DetailQueryTargets = &targets
	}
	return out
}

// DocumentIDs returns the IDs of the found documents in ranking order.
func (s WorkflowState) DocumentIDs() []string {
	if len(s.FoundDocuments) == 0 {
		return nil
	}
	ids := make([]string, len(s.FoundDocuments))
	for i, doc := range s.FoundDocuments {
		ids[i] = doc.ID
	}
	return ids
}

// DocumentFilenames returns the filenames of the found documents in
// ranking order.
func (s WorkflowState) DocumentFilenames() []string {
	if len(s.FoundDocuments) == 0 {
		return nil
	}
	names := make([]string, len(s.FoundDocuments))
	for i, doc := range s.FoundDocuments {
		names[i] = doc.Filename
	}
	return names
}
