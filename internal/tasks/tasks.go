// Package tasks hands converted action items to the external task tracker.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/iago/lead-intel/internal/domain"
)

// TaskRequest is the payload sent to the task tracker. ExternalID is
// deterministic per action item and doubles as the idempotency key.
type TaskRequest struct {
	ExternalID   string          `json:"external_id"`
	ActionItemID string          `json:"action_item_id"`
	JobID        string          `json:"job_id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	Priority     domain.Priority `json:"priority"`
	Effort       int             `json:"effort"`
	RequestedAt  time.Time       `json:"requested_at"`
}

type Publisher interface {
	CreateTask(ctx context.Context, request TaskRequest) (string, error)
}

// MemoryPublisher records requests in memory; used when no broker is set.
type MemoryPublisher struct {
	mu       sync.Mutex
	requests []TaskRequest
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) CreateTask(_ context.Context, request TaskRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	return request.ExternalID, nil
}

func (p *MemoryPublisher) Requests() []TaskRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TaskRequest(nil), p.requests...)
}
