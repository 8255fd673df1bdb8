package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/http/middleware"
	"github.com/iago/lead-intel/internal/progress"
	"github.com/iago/lead-intel/internal/promotion"
	"github.com/iago/lead-intel/internal/repository"
	"github.com/iago/lead-intel/internal/scoring"
	"github.com/iago/lead-intel/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const (
	idempotencyTTL     = 24 * time.Hour
	maxRequestBodySize = 1 << 20
)

type API struct {
	research    *service.ResearchService
	scoring     *scoring.Service
	promotion   *promotion.Service
	progress    progress.Broadcaster
	idempotency *idempotencyStore
	logger      zerolog.Logger
}

func NewAPI(
	research *service.ResearchService,
	scoringService *scoring.Service,
	promotionService *promotion.Service,
	broadcaster progress.Broadcaster,
	logger zerolog.Logger,
) *API {
	return &API{
		research:    research,
		scoring:     scoringService,
		promotion:   promotionService,
		progress:    broadcaster,
		idempotency: newIdempotencyStore(idempotencyTTL),
		logger:      logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and repository errors to HTTP responses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, scoring.ErrGroupOwnership),
		errors.Is(err, promotion.ErrLeadOwnership):
		writeError(w, r, http.StatusForbidden, "forbidden", "resource belongs to another user")
	default:
		api.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg(action + " failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", action+" failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, value any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, value)
}

func requireUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > 128 {
		return "", errInvalidPayload
	}
	return userID, nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers which job an Idempotency-Key created.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{ttl: ttl, entries: make(map[string]idempotencyEntry)}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > s.ttl {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for existing, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, existing)
		}
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, JobID: jobID, CreatedAt: now}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
