// Package domain provides the workflow model for the document QA orchestrator.
package domain

// WorkflowStage represents one phase of a question-answering interaction.
// A session is in exactly one stage at any time. These values appear
// verbatim in API responses and logs.
type WorkflowStage string

const (
	// StageIdle is the initial stage before any question is submitted.
	StageIdle WorkflowStage = "idle"

	// StageClassifying means the question is being classified by the
	// document service.
	StageClassifying WorkflowStage = "classifying"

	// StageNeedClarification means the question was ambiguous and the
	// user must clarify before anything else happens.
	StageNeedClarification WorkflowStage = "need_clarification"

	// StageAwaitingSearchApproval means a document search is proposed
	// and waits for the user's go-ahead.
	StageAwaitingSearchApproval WorkflowStage = "awaiting_search_approval"

	// StageSearchingDocuments means a search job is running on the
	// document service.
	StageSearchingDocuments WorkflowStage = "searching_documents"

	// StageDocumentsFound means search results are in and wait for the
	// user to confirm or widen them.
	StageDocumentsFound WorkflowStage = "documents_found"

	// StageAwaitingDetailQueryApproval means the search suggested a
	// deeper per-document query that waits for approval.
	StageAwaitingDetailQueryApproval WorkflowStage = "awaiting_detail_query_approval"

	// StageQueryingDetails means a detail query job is running.
	StageQueryingDetails WorkflowStage = "querying_details"

	// StageGeneratingAnswer means the final answer is being generated.
	StageGeneratingAnswer WorkflowStage = "generating_answer"

	// StageCompleted means an answer was delivered.
	StageCompleted WorkflowStage = "completed"

	// StageError means the workflow stopped on a fault. The state's
	// ErrorMessage explains what happened.
	StageError WorkflowStage = "error"
)

// IsTerminal reports whether the stage ends the interaction. A terminal
// session accepts a new question, which resets the workflow.
func (s WorkflowStage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageError:
		return true
	default:
		return false
	}
}

// IsPolling reports whether the stage observes a background job on the
// document service.
func (s WorkflowStage) IsPolling() bool {
	switch s {
	case StageSearchingDocuments, StageQueryingDetails, StageGeneratingAnswer:
		return true
	default:
		return false
	}
}

// WaitsForUser reports whether the stage blocks on an explicit user
// decision.
func (s WorkflowStage) WaitsForUser() bool {
	switch s {
	case StageNeedClarification, StageAwaitingSearchApproval,
		StageDocumentsFound, StageAwaitingDetailQueryApproval:
		return true
	default:
		return false
	}
}

// IsValidStage checks if the given stage is one of the defined values.
func IsValidStage(s WorkflowStage) bool {
	switch s {
	case StageIdle, StageClassifying, StageNeedClarification,
		StageAwaitingSearchApproval, StageSearchingDocuments,
		StageDocumentsFound, StageAwaitingDetailQueryApproval,
		StageQueryingDetails, StageGeneratingAnswer,
		StageCompleted, StageError:
		return true
	default:
		return false
	}
}

// AllStages lists every defined workflow stage.
func AllStages() []WorkflowStage {
	return []WorkflowStage{
		StageIdle,
		StageClassifying,
		StageNeedClarification,
		StageAwaitingSearchApproval,
		StageSearchingDocuments,
		StageDocumentsFound,
		StageAwaitingDetailQueryApproval,
		StageQueryingDetails,
		StageGeneratingAnswer,
		StageCompleted,
		StageError,
	}
}

// JobStatus represents the lifecycle of a background job on the document
// service. These values match the status field of the job status APIs.
type JobStatus string

const (
	// JobStatusPending means the job is queued but not yet running.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning means the job is in progress.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted means the job finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed means the job finished with an error.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether further polling can no longer change the
// status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// QuestionIntent is the classification verdict for a submitted question.
// These values match the intent field of the classify API.
type QuestionIntent string

const (
	// IntentAmbiguous means the question needs clarification before it
	// can be answered.
	IntentAmbiguous QuestionIntent = "ambiguous"

	// IntentNeedsSearch means answering requires a document search.
	IntentNeedsSearch QuestionIntent = "needs-search"

	// IntentDirectAnswer means the question can be answered without
	// consulting documents.
	IntentDirectAnswer QuestionIntent = "direct-answer"
)
