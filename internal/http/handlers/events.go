package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/iago/lead-intel/internal/domain"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPongTimeout  = 60 * time.Second
	eventPingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// JobEvents streams a job's progress log over a WebSocket. The first frame is
// the job's current status; the stream ends after a terminal event.
func (api *API) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Subscribe before reading the status so a terminal event published in
	// between is either reflected in the status or delivered on the channel.
	subscription := api.progress.Subscribe(jobID)
	defer subscription.Close()

	report, err := api.research.Status(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "load job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	current := domain.ProgressEvent{
		Message:   "Job is " + string(report.Job.Status),
		Timestamp: report.Job.UpdatedAt,
		Status:    report.Job.Status,
	}
	if err := writeEvent(conn, current); err != nil || current.Terminal() {
		closeStream(conn)
		return
	}

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-subscription.C:
			if !ok {
				closeStream(conn)
				return
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
			if event.Terminal() {
				closeStream(conn)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event domain.ProgressEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteJSON(event)
}

func closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
		time.Now().Add(eventWriteTimeout),
	)
}

// readUntilClosed drains client frames so pongs and close frames are handled.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
