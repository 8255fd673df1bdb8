package progress

import (
	"sync"
	"sync/atomic"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
)

const (
	DefaultBuffer           = 1024
	DefaultSubscriberBuffer = 64
)

type envelope struct {
	jobID string
	event domain.ProgressEvent
}

// Subscription receives the events of one job until Close is called or the
// hub shuts down, after which C is closed.
type Subscription struct {
	C     <-chan domain.ProgressEvent
	close func()
}

func (s *Subscription) Close() {
	s.close()
}

// Hub is the in-process Broadcaster. Publish does a non-blocking send into a
// bounded channel drained by a single dispatcher goroutine.
type Hub struct {
	in        chan envelope
	subBuffer int

	mu     sync.RWMutex
	rooms  map[string]map[chan domain.ProgressEvent]struct{}
	closed bool

	dropped  atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(buffer, subscriberBuffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	h := &Hub{
		in:        make(chan envelope, buffer),
		subBuffer: subscriberBuffer,
		rooms:     map[string]map[chan domain.ProgressEvent]struct{}{},
		done:      make(chan struct{}),
	}
	go h.dispatch()
	return h
}

func (h *Hub) Publish(jobID string, event domain.ProgressEvent) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		h.drop()
		return
	}
	select {
	case h.in <- envelope{jobID: jobID, event: event}:
	default:
		h.drop()
	}
}

func (h *Hub) Subscribe(jobID string) *Subscription {
	ch := make(chan domain.ProgressEvent, h.subBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return &Subscription{C: ch, close: func() {}}
	}
	room, ok := h.rooms[jobID]
	if !ok {
		room = map[chan domain.ProgressEvent]struct{}{}
		h.rooms[jobID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return &Subscription{C: ch, close: func() {
		once.Do(func() { h.unsubscribe(jobID, ch) })
	}}
}

// Dropped reports how many events were discarded since the hub started.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops the dispatcher and closes every subscription channel.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		for jobID, room := range h.rooms {
			for ch := range room {
				close(ch)
			}
			delete(h.rooms, jobID)
		}
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Hub) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case env := <-h.in:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.rooms[env.jobID] {
		select {
		case ch <- env.event:
		default:
			h.drop()
		}
	}
}

func (h *Hub) unsubscribe(jobID string, ch chan domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[jobID]
	if !ok {
		return
	}
	if _, ok := room[ch]; !ok {
		return
	}
	delete(room, ch)
	close(ch)
	if len(room) == 0 {
		delete(h.rooms, jobID)
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	metrics.IncProgressDropped()
}
