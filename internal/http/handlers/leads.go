package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iago/lead-intel/internal/domain"
)

type leadGroupRequest struct {
	UserID  string `json:"user_id"`
	Rescore bool   `json:"rescore,omitempty"`
}

type promoteRequest struct {
	UserID string `json:"user_id"`
}

type targetProfileRequest struct {
	Industries  []string `json:"industries"`
	CompanySize string   `json:"company_size"`
	PainPoints  []string `json:"pain_points"`
}

func (api *API) ScoreLeadGroup(w http.ResponseWriter, r *http.Request) {
	var request leadGroupRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	userID, err := requireUserID(request.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	counts, err := api.scoring.ScoreBatch(r.Context(), chi.URLParam(r, "groupID"), userID, request.Rescore)
	if err != nil {
		api.writeServiceError(w, r, err, "score lead group")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (api *API) PromoteLeadGroup(w http.ResponseWriter, r *http.Request) {
	var request promoteRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	userID, err := requireUserID(request.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	result, err := api.promotion.PromoteBatch(r.Context(), chi.URLParam(r, "groupID"), userID)
	if err != nil {
		api.writeServiceError(w, r, err, "promote lead group")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) PromoteLead(w http.ResponseWriter, r *http.Request) {
	var request promoteRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	userID, err := requireUserID(request.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	result, err := api.promotion.Promote(r.Context(), chi.URLParam(r, "leadID"), userID)
	if err != nil {
		api.writeServiceError(w, r, err, "promote lead")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) SaveTargetProfile(w http.ResponseWriter, r *http.Request) {
	var request targetProfileRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	profile, err := api.research.SaveTargetProfile(r.Context(), domain.TargetProfile{
		UserID:      chi.URLParam(r, "userID"),
		Industries:  request.Industries,
		CompanySize: request.CompanySize,
		PainPoints:  request.PainPoints,
	})
	if err != nil {
		api.writeServiceError(w, r, err, "save target profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      profile.UserID,
		"industries":   profile.Industries,
		"company_size": profile.CompanySize,
		"pain_points":  profile.PainPoints,
		"updated_at":   profile.UpdatedAt,
	})
}
