package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/service"
)

type submitRequest struct {
	UserID           string `json:"user_id"`
	Prompt           string `json:"prompt"`
	JobType          string `json:"job_type,omitempty"`
	SearchProvider   string `json:"search_provider,omitempty"`
	AnalysisProvider string `json:"analysis_provider,omitempty"`
	AnalysisModel    string `json:"analysis_model,omitempty"`
}

type retryAnalysisRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type retryRequest struct {
	SearchProvider string `json:"search_provider,omitempty"`
}

type jobResponse struct {
	JobID            string           `json:"job_id"`
	UserID           string           `json:"user_id"`
	JobType          domain.JobType   `json:"job_type"`
	Prompt           string           `json:"prompt"`
	Status           domain.JobStatus `json:"status"`
	SearchProvider   string           `json:"search_provider,omitempty"`
	AnalysisProvider string           `json:"analysis_provider,omitempty"`
	AnalysisModel    string           `json:"analysis_model,omitempty"`
	CachedFromJobID  string           `json:"cached_from_job_id,omitempty"`
	Error            *jobError        `json:"error,omitempty"`
	StatusURL        string           `json:"status_url"`
	EventsURL        string           `json:"events_url"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

type jobError struct {
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
	Stage     domain.Stage `json:"stage,omitempty"`
}

type sourceResponse struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	ScrapedAt time.Time `json:"scraped_at"`
}

type insightResponse struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
}

type actionItemResponse struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	Priority       domain.Priority `json:"priority"`
	Effort         int             `json:"effort"`
	ExternalTaskID string          `json:"external_task_id,omitempty"`
}

type leadResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email,omitempty"`
	Company         string         `json:"company"`
	Industry        string         `json:"industry,omitempty"`
	CompanySize     string         `json:"company_size,omitempty"`
	PainPoints      []string       `json:"pain_points"`
	Signals         domain.Signals `json:"signals"`
	Score           int            `json:"score"`
	Tier            domain.Tier    `json:"tier"`
	PromotedToCRMID string         `json:"promoted_to_crm_id,omitempty"`
}

type leadGroupResponse struct {
	ID    string         `json:"id"`
	Leads []leadResponse `json:"leads"`
}

type statusResponse struct {
	jobResponse
	SourceCount int                  `json:"source_count"`
	Sources     []sourceResponse     `json:"sources"`
	Insights    []insightResponse    `json:"insights"`
	ActionItems []actionItemResponse `json:"action_items"`
	LeadGroups  []leadGroupResponse  `json:"lead_groups,omitempty"`
}

func (api *API) SubmitResearch(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && len(idempotencyKey) < 16 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key must have at least 16 characters")
		return
	}

	var request submitRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			api.JobStatusByID(w, r, entry.JobID, http.StatusAccepted)
			return
		}
	}

	job, err := api.research.Submit(r.Context(), service.SubmitRequest{
		UserID:           request.UserID,
		Prompt:           request.Prompt,
		JobType:          domain.JobType(strings.ToLower(strings.TrimSpace(request.JobType))),
		SearchProvider:   request.SearchProvider,
		AnalysisProvider: request.AnalysisProvider,
		AnalysisModel:    request.AnalysisModel,
	})
	if err != nil {
		api.writeServiceError(w, r, err, "submit research")
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}

	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	api.JobStatusByID(w, r, chi.URLParam(r, "jobID"), http.StatusOK)
}

func (api *API) JobStatusByID(w http.ResponseWriter, r *http.Request, jobID string, statusCode int) {
	report, err := api.research.Status(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "load job")
		return
	}
	writeJSON(w, statusCode, newStatusResponse(report))
}

func (api *API) RetryAnalysis(w http.ResponseWriter, r *http.Request) {
	var request retryAnalysisRequest
	if err := decodeOptionalJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	job, err := api.research.RetryAnalysis(r.Context(), chi.URLParam(r, "jobID"), request.Provider, request.Model)
	if err != nil {
		api.writeServiceError(w, r, err, "retry analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (api *API) Retry(w http.ResponseWriter, r *http.Request) {
	var request retryRequest
	if err := decodeOptionalJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	job, err := api.research.Retry(r.Context(), chi.URLParam(r, "jobID"), request.SearchProvider)
	if err != nil {
		api.writeServiceError(w, r, err, "retry job")
		return
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (api *API) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := api.research.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		api.writeServiceError(w, r, err, "cancel job")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

type convertRequest struct {
	UserID string `json:"user_id"`
}

func (api *API) ConvertActionItem(w http.ResponseWriter, r *http.Request) {
	var request convertRequest
	if err := decodeOptionalJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	result, err := api.research.ConvertActionItem(r.Context(), chi.URLParam(r, "itemID"), strings.TrimSpace(request.UserID))
	if err != nil {
		api.writeServiceError(w, r, err, "convert action item")
		return
	}
	statusCode := http.StatusOK
	if result.Created {
		statusCode = http.StatusCreated
	}
	writeJSON(w, statusCode, result)
}

func newJobResponse(job *domain.ResearchJob) jobResponse {
	response := jobResponse{
		JobID:            job.ID,
		UserID:           job.UserID,
		JobType:          job.Type,
		Prompt:           job.Prompt,
		Status:           job.Status,
		SearchProvider:   job.SearchProvider,
		AnalysisProvider: job.AnalysisProvider,
		AnalysisModel:    job.AnalysisModel,
		CachedFromJobID:  job.CachedFromJobID,
		StatusURL:        "/v1/research/" + job.ID,
		EventsURL:        "/v1/research/" + job.ID + "/events",
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}
	if job.Status == domain.JobStatusFailed {
		response.Error = &jobError{Message: job.ErrorMessage, Retryable: job.Retryable, Stage: job.FailedStage}
	}
	return response
}

func newStatusResponse(report *service.JobReport) statusResponse {
	response := statusResponse{
		jobResponse: newJobResponse(report.Job),
		SourceCount: len(report.Sources),
		Sources:     make([]sourceResponse, 0, len(report.Sources)),
		Insights:    make([]insightResponse, 0, len(report.Insights)),
		ActionItems: make([]actionItemResponse, 0, len(report.ActionItems)),
	}
	for _, source := range report.Sources {
		response.Sources = append(response.Sources, sourceResponse{
			URL:       source.URL,
			Title:     source.Title,
			Excerpt:   source.Excerpt,
			ScrapedAt: source.ScrapedAt,
		})
	}
	for _, insight := range report.Insights {
		response.Insights = append(response.Insights, insightResponse{
			ID:         insight.ID,
			Title:      insight.Title,
			Category:   insight.Category,
			Body:       insight.Body,
			Confidence: insight.Confidence,
		})
	}
	for _, item := range report.ActionItems {
		response.ActionItems = append(response.ActionItems, actionItemResponse{
			ID:             item.ID,
			Description:    item.Description,
			Priority:       item.Priority,
			Effort:         item.Effort,
			ExternalTaskID: item.ExternalTaskID,
		})
	}
	for _, group := range report.LeadGroups {
		out := leadGroupResponse{ID: group.Group.ID, Leads: make([]leadResponse, 0, len(group.Leads))}
		for _, lead := range group.Leads {
			out.Leads = append(out.Leads, newLeadResponse(lead))
		}
		response.LeadGroups = append(response.LeadGroups, out)
	}
	return response
}

func newLeadResponse(lead domain.Lead) leadResponse {
	painPoints := lead.PainPoints
	if painPoints == nil {
		painPoints = []string{}
	}
	return leadResponse{
		ID:              lead.ID,
		Name:            lead.Name,
		Email:           lead.Email,
		Company:         lead.Company,
		Industry:        lead.Industry,
		CompanySize:     lead.CompanySize,
		PainPoints:      painPoints,
		Signals:         lead.Signals,
		Score:           lead.Score,
		Tier:            lead.Tier,
		PromotedToCRMID: lead.PromotedToCRMID,
	}
}
