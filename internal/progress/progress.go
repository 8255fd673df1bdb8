// Package progress fans out live job log lines to observers. Delivery is
// best-effort: publishers never block and full buffers drop events.
package progress

import (
	"fmt"
	"time"

	"github.com/iago/lead-intel/internal/domain"
)

// Broadcaster is the room-scoped pub/sub used by the pipeline and the live
// log endpoint. Rooms are job ids.
type Broadcaster interface {
	Publish(jobID string, event domain.ProgressEvent)
	Subscribe(jobID string) *Subscription
}

// Emit publishes a formatted message stamped with the current time.
func Emit(b Broadcaster, jobID string, status domain.JobStatus, format string, args ...any) {
	if b == nil {
		return
	}
	b.Publish(jobID, domain.ProgressEvent{
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
		Status:    status,
	})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(string, domain.ProgressEvent) {}

func (Nop) Subscribe(string) *Subscription {
	ch := make(chan domain.ProgressEvent)
	close(ch)
	return &Subscription{C: ch, close: func() {}}
}
