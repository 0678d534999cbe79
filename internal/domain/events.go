package domain

// EventKind identifies a workflow event type. Kinds appear in logs and
// metrics labels.
type EventKind string

const (
	EventSubmitQuestion          EventKind = "submit_question"
	EventClassificationCompleted EventKind = "classification_completed"
	EventClarificationSubmitted  EventKind = "clarification_submitted"
	EventQuickResponseChosen     EventKind = "quick_response_chosen"
	EventSearchApproved          EventKind = "search_approved"
	EventSearchSkipped           EventKind = "search_skipped"
	EventSearchCompleted         EventKind = "search_completed"
	EventDocumentsConfirmed      EventKind = "documents_confirmed"
	EventMoreSearchRequested     EventKind = "more_search_requested"
	EventDetailQueryApproved     EventKind = "detail_query_approved"
	EventDetailQuerySkipped      EventKind = "detail_query_skipped"
	EventDetailQueryCompleted    EventKind = "detail_query_completed"
	EventGenerationProgress      EventKind = "generation_progress"
	EventGenerationCompleted     EventKind = "generation_completed"
	EventFault                   EventKind = "fault"
)

// Event is a workflow input. Events originate either from the user (view
// callbacks) or from completed backend operations, and reach the state
// exclusively through the transition engine.
type Event interface {
	Kind() EventKind
}

// SubmitQuestion starts a new interaction. On a terminal stage it resets
// the workflow.
type SubmitQuestion struct {
	Question string
}

func (SubmitQuestion) Kind() EventKind { return EventSubmitQuestion }

// ClassificationCompleted carries the classify verdict for the active
// question. Fields beyond Intent are populated per intent: clarification
// data for ambiguous, a search preview for needs-search.
type ClassificationCompleted struct {
	Intent                QuestionIntent
	ClarificationQuestion string
	SuggestedResponses    []string
	SearchPreview         *SearchPreview
}

func (ClassificationCompleted) Kind() EventKind { return EventClassificationCompleted }

// ClarificationSubmitted carries free-text clarification from the user.
type ClarificationSubmitted struct {
	Text string
}

func (ClarificationSubmitted) Kind() EventKind { return EventClarificationSubmitted }

// QuickResponseChosen carries the suggested clarification response the
// user tapped.
type QuickResponseChosen struct {
	Text string
}

func (QuickResponseChosen) Kind() EventKind { return EventQuickResponseChosen }

// SearchApproved is the user's go-ahead for the proposed search.
type SearchApproved struct{}

func (SearchApproved) Kind() EventKind { return EventSearchApproved }

// SearchSkipped declines the proposed search; the answer is generated
// without document context.
type SearchSkipped struct{}

func (SearchSkipped) Kind() EventKind { return EventSearchSkipped }

// SearchCompleted carries the results of a finished search job.
type SearchCompleted struct {
	Documents        []DocumentMatch
	NeedsDetailQuery bool
	DetailQueryType  string
}

func (SearchCompleted) Kind() EventKind { return EventSearchCompleted }

// DocumentsConfirmed accepts the found documents as answer context.
type DocumentsConfirmed struct{}

func (DocumentsConfirmed) Kind() EventKind { return EventDocumentsConfirmed }

// MoreSearchRequested asks for another search pass instead of accepting
// the current results.
type MoreSearchRequested struct{}

func (MoreSearchRequested) Kind() EventKind { return EventMoreSearchRequested }

// DetailQueryApproved is the user's go-ahead for the proposed detail
// query.
type DetailQueryApproved struct{}

func (DetailQueryApproved) Kind() EventKind { return EventDetailQueryApproved }

// DetailQuerySkipped declines the detail query; the answer is generated
// from the documents already found.
type DetailQuerySkipped struct{}

func (DetailQuerySkipped) Kind() EventKind { return EventDetailQuerySkipped }

// DetailQueryCompleted marks a finished detail query job.
type DetailQueryCompleted struct{}

func (DetailQueryCompleted) Kind() EventKind { return EventDetailQueryCompleted }

// GenerationProgress carries an intermediate generation percentage. It
// never changes the stage and never bumps the stage sequence.
type GenerationProgress struct {
	Pct int
}

func (GenerationProgress) Kind() EventKind { return EventGenerationProgress }

// GenerationCompleted carries the final answer.
type GenerationCompleted struct {
	Answer string
}

func (GenerationCompleted) Kind() EventKind { return EventGenerationCompleted }

// Fault moves the workflow to the error stage. It is legal from every
// stage. Message is the user-facing explanation, see FaultMessage.
type Fault struct {
	Message string
}

func (Fault) Kind() EventKind { return EventFault }
