package backend

import "github.com/documind/qa-orchestrator/internal/domain"

// ClassifyResult is the classification outcome for a submitted question.
type ClassifyResult struct {
	// Intent is the classified question intent.
	Intent domain.QuestionIntent
	// Clarification is the follow-up question to ask the user when the
	// intent is ambiguous.
	Clarification string
	// SuggestedResponses are quick replies the user may pick instead of
	// typing a clarification.
	SuggestedResponses []string
	// SearchPreview describes how the service would search, present
	// when the intent needs a document search.
	SearchPreview *domain.SearchPreview
}

// SearchJobStatus is the polled status of a document search job.
type SearchJobStatus struct {
	Status domain.JobStatus
	// Documents holds the matches in server rank order, present once
	// the job completed.
	Documents []domain.DocumentMatch
	// NeedsDetailQuery is set when the matches require a follow-up
	// detail query before generation.
	NeedsDetailQuery bool
	// DetailQueryType is the server-suggested query type for the
	// follow-up, empty when NeedsDetailQuery is false.
	DetailQueryType string
	ErrorMessage    string
}

// DetailQueryJobStatus is the polled status of a detail query job.
type DetailQueryJobStatus struct {
	Status       domain.JobStatus
	ErrorMessage string
}

// GenerationJobStatus is the polled status of an answer generation job.
type GenerationJobStatus struct {
	Status domain.JobStatus
	// ProgressPct is nil when the server omitted the field.
	ProgressPct  *int
	Answer       string
	ErrorMessage string
}

// ClusteringJobStatus is the polled status of a clustering run.
type ClusteringJobStatus struct {
	Status          domain.JobStatus
	Processed       int
	Total           int
	ClustersCreated int
	ErrorMessage    string
}

// GenerationContext is the context payload sent to the generation
// endpoint: the question plus whatever the preceding stages collected.
type GenerationContext struct {
	Question      string   `json:"question"`
	DocumentIDs   []string `json:"documentIds,omitempty"`
	QueryType     string   `json:"queryType,omitempty"`
	SearchSkipped bool     `json:"searchSkipped,omitempty"`
}

// Wire types for the document service REST API. Field names follow the
// service's camelCase JSON.

type classifyRequest struct {
	Question string `json:"question"`
}

type classifyResponse struct {
	Intent             string         `json:"intent"`
	Clarification      string         `json:"clarification,omitempty"`
	SuggestedResponses []string       `json:"suggestedResponses,omitempty"`
	SearchPreview      *searchPreview `json:"searchPreview,omitempty"`
}

type searchPreview struct {
	OriginalQuestion string `json:"originalQuestion"`
	AIUnderstanding  string `json:"aiUnderstanding"`
	WillUseRewrite   bool   `json:"willUseRewrite"`
}

type searchRequest struct {
	Question     string   `json:"question"`
	RewriteHints []string `json:"rewriteHints,omitempty"`
}

type startJobResponse struct {
	JobID string `json:"jobId"`
}

type documentMatch struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}

type searchStatusResponse struct {
	Status           string          `json:"status"`
	Documents        []documentMatch `json:"documents,omitempty"`
	NeedsDetailQuery bool            `json:"needsDetailQuery,omitempty"`
	DetailQueryType  string          `json:"detailQueryType,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
}

type detailQueryRequest struct {
	DocumentIDs []string `json:"documentIds"`
	QueryType   string   `json:"queryType"`
}

type detailQueryStatusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type generateRequest struct {
	Context GenerationContext `json:"context"`
}

type generationStatusResponse struct {
	Status       string `json:"status"`
	ProgressPct  *int   `json:"progressPct,omitempty"`
	Answer       string `json:"answer,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type clusteringStatusResponse struct {
	Status          string `json:"status"`
	Processed       int    `json:"processed"`
	Total           int    `json:"total"`
	ClustersCreated int    `json:"clustersCreated,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

func (r classifyResponse) toResult() ClassifyResult {
	result := ClassifyResult{
		Intent:             domain.QuestionIntent(r.Intent),
		Clarification:      r.Clarification,
		SuggestedResponses: r.SuggestedResponses,
	}
	if r.SearchPreview != nil {
		result.SearchPreview = &domain.SearchPreview{
			OriginalQuestion: r.SearchPreview.OriginalQuestion,
			AIUnderstanding:  r.SearchPreview.AIUnderstanding,
			WillUseRewrite:   r.SearchPreview.WillUseRewrite,
		}
	}
	return result
}

func (r searchStatusResponse) toStatus() SearchJobStatus {
	status := SearchJobStatus{
		Status:           domain.JobStatus(r.Status),
		NeedsDetailQuery: r.NeedsDetailQuery,
		DetailQueryType:  r.DetailQueryType,
		ErrorMessage:     r.ErrorMessage,
	}
	if len(r.Documents) > 0 {
		status.Documents = make([]domain.DocumentMatch, 0, len(r.Documents))
		for _, d := range r.Documents {
			status.Documents = append(status.Documents, domain.DocumentMatch{
				ID:         d.ID,
				Filename:   d.Filename,
				Summary:    d.Summary,
				Similarity: d.Similarity,
			})
		}
	}
	return status
}

func (r detailQueryStatusResponse) toStatus() DetailQueryJobStatus {
	return DetailQueryJobStatus{
		Status:       domain.JobStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
	}
}

func (r generationStatusResponse) toStatus() GenerationJobStatus {
	return GenerationJobStatus{
		Status:       domain.JobStatus(r.Status),
		ProgressPct:  r.ProgressPct,
		Answer:       r.Answer,
		ErrorMessage: r.ErrorMessage,
	}
}

func (r clusteringStatusResponse) toStatus() ClusteringJobStatus {
	return ClusteringJobStatus{
		Status:          domain.JobStatus(r.Status),
		Processed:       r.Processed,
		Total:           r.Total,
		ClustersCreated: r.ClustersCreated,
		ErrorMessage:    r.ErrorMessage,
	}
}
