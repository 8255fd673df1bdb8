package domain

import (
	"time"
)

type JobType string

const (
	JobTypeResearch       JobType = "research"
	JobTypeLeadGeneration JobType = "lead_generation"
)

func (t JobType) Valid() bool {
	return t == JobTypeResearch || t == JobTypeLeadGeneration
}

// IncludesLeads reports whether analysis output for this job type carries leads.
func (t JobType) IncludesLeads() bool {
	return t == JobTypeLeadGeneration
}

type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusDiscovering JobStatus = "DISCOVERING"
	JobStatusScraping    JobStatus = "SCRAPING"
	JobStatusAnalyzing   JobStatus = "ANALYZING"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ResearchJob is one asynchronous research request and its lifecycle state.
type ResearchJob struct {
	ID         string
	UserID     string
	Type       JobType
	Prompt     string
	PromptHash string
	Status     JobStatus

	SearchProvider   string
	AnalysisProvider string
	AnalysisModel    string

	// CachedFromJobID is set when results were served from an earlier
	// completed job with the same prompt hash.
	CachedFromJobID string

	ErrorMessage string
	Retryable    bool
	FailedStage  Stage
	Attempts     int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ResultJobID returns the job whose insights and sources back this job.
func (j *ResearchJob) ResultJobID() string {
	if j.CachedFromJobID != "" {
		return j.CachedFromJobID
	}
	return j.ID
}

func (j *ResearchJob) Clone() *ResearchJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

type MessageKind string

const (
	MessageKindRun           MessageKind = "run"
	MessageKindRetryAnalysis MessageKind = "retry_analysis"
)

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID            string      `json:"job_id"`
	Kind             MessageKind `json:"kind"`
	UserID           string      `json:"user_id"`
	SearchProvider   string      `json:"search_provider,omitempty"`
	AnalysisProvider string      `json:"analysis_provider,omitempty"`
	AnalysisModel    string      `json:"analysis_model,omitempty"`
	Attempt          int         `json:"attempt"`
	RequestedAt      time.Time   `json:"requested_at"`
}
