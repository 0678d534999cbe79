package httpserver

import (
	"time"

	"github.com/documind/qa-orchestrator/internal/cluster"
	"github.com/documind/qa-orchestrator/internal/domain"
)

// Workflow response types for JSON serialization. The state response is
// a full snapshot: fields that belong to a stage the workflow has left
// are stale and the view ignores them, so they are serialized as-is.

type stateResponse struct {
	Stage                 string                      `json:"stage"`
	StageSeq              uint64                      `json:"stage_seq"`
	Question              string                      `json:"question,omitempty"`
	ClarificationQuestion string                      `json:"clarification_question,omitempty"`
	SuggestedResponses    []string                    `json:"suggested_responses,omitempty"`
	SearchPreview         *searchPreviewResponse      `json:"search_preview,omitempty"`
	FoundDocuments        []documentMatchResponse     `json:"found_documents,omitempty"`
	DetailQueryTargets    *detailQueryTargetsResponse `json:"detail_query_targets,omitempty"`
	GenerationProgress    int                         `json:"generation_progress"`
	Answer                string                      `json:"answer,omitempty"`
	ErrorMessage          string                      `json:"error_message,omitempty"`
	UpdatedAt             *time.Time                  `json:"updated_at,omitempty"`
}

type searchPreviewResponse struct {
	OriginalQuestion string `json:"original_question"`
	AIUnderstanding  string `json:"ai_understanding"`
	WillUseRewrite   bool   `json:"will_use_rewrite"`
}

type documentMatchResponse struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	Summary    string  `json:"summary,omitempty"`
	Similarity float64 `json:"similarity"`
}

type detailQueryTargetsResponse struct {
	DocumentNames []string `json:"document_names"`
	QueryType     string   `json:"query_type"`
}

type sessionResponse struct {
	SessionID string        `json:"session_id"`
	State     stateResponse `json:"state"`
}

type clusterRunResponse struct {
	JobID           string     `json:"job_id,omitempty"`
	Status          string     `json:"status,omitempty"`
	Active          bool       `json:"active"`
	Processed       int        `json:"processed"`
	Total           int        `json:"total"`
	ClustersCreated int        `json:"clusters_created,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Converter functions

func stateToResponse(s domain.WorkflowState) stateResponse {
	resp := stateResponse{
		Stage:                 string(s.Stage),
		StageSeq:              s.StageSeq,
		Question:              s.Question,
		ClarificationQuestion: s.ClarificationQuestion,
		SuggestedResponses:    s.SuggestedResponses,
		GenerationProgress:    s.GenerationProgress,
		Answer:                s.Answer,
		ErrorMessage:          s.ErrorMessage,
	}
	if s.SearchPreview != nil {
		resp.SearchPreview = &searchPreviewResponse{
			OriginalQuestion: s.SearchPreview.OriginalQuestion,
			AIUnderstanding:  s.SearchPreview.AIUnderstanding,
			WillUseRewrite:   s.SearchPreview.WillUseRewrite,
		}
	}
	if len(s.FoundDocuments) > 0 {
		resp.FoundDocuments = make([]documentMatchResponse, len(s.FoundDocuments))
		for i, d := range s.FoundDocuments {
			resp.FoundDocuments[i] = documentMatchResponse{
				ID:         d.ID,
				Filename:   d.Filename,
				Summary:    d.Summary,
				Similarity: d.Similarity,
			}
		}
	}
	if s.DetailQueryTargets != nil {
		resp.DetailQueryTargets = &detailQueryTargetsResponse{
			DocumentNames: s.DetailQueryTargets.DocumentNames,
			QueryType:     s.DetailQueryTargets.QueryType,
		}
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

func runToResponse(r cluster.Run) clusterRunResponse {
	resp := clusterRunResponse{
		JobID:           r.JobID,
		Status:          string(r.Status),
		Active:          r.Active(),
		Processed:       r.Processed,
		Total:           r.Total,
		ClustersCreated: r.ClustersCreated,
		ErrorMessage:    r.ErrorMessage,
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt
		resp.StartedAt = &t
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}
