package domain

import "time"

// Source is a scraped page. Sources are stored independently of jobs and
// double as the URL-level cache.
type Source struct {
	ID        string
	URL       string
	Title     string
	Content   string
	Excerpt   string
	Strategy  string
	ScrapedAt time.Time
}

type Insight struct {
	ID         string
	JobID      string
	Title      string
	Category   string
	Body       string
	Confidence float64
	CreatedAt  time.Time
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type ActionItem struct {
	ID          string
	JobID       string
	Description string
	Priority    Priority
	Effort      int
	// ExternalTaskID is written once when the item is converted into a task.
	ExternalTaskID string
	CreatedAt      time.Time
}

// AnalysisResult is the validated output of one analysis call.
type AnalysisResult struct {
	Insights    []Insight
	ActionItems []ActionItem
	Leads       []Lead
	Provider    string
	Model       string
}

// ProgressEvent is a single live log line for a job.
type ProgressEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Status    JobStatus `json:"status,omitempty"`
}

// Terminal reports whether the event closes the job's log stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status.Terminal()
}
