package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"kurate-api/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	heartbeatInterval = 10 * time.Second
	dataInterval      = 5 * time.Second
	streamLifetime    = 50 * time.Second
)

// EventsHandler serves the server-sent-events demo stream consumed by the
// frontend.
type EventsHandler struct{}

func NewEventsHandler() *EventsHandler {
	return &EventsHandler{}
}

type streamEvent struct {
	ID   int64                  `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = fmt.Sprintf("client_%d", time.Now().UnixMilli())
	}
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		eventType = "general"
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logger.LogEvent(logrus.InfoLevel, "Event stream opened", logrus.Fields{
		"client_id":  clientID,
		"event_type": eventType,
	})

	writeEvent(w, streamEvent{
		ID:   time.Now().UnixMilli(),
		Type: "connection",
		Data: map[string]interface{}{
			"clientId":  clientID,
			"message":   "connection established",
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	data := time.NewTicker(dataInterval)
	defer data.Stop()
	lifetime := time.NewTimer(streamLifetime)
	defer lifetime.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.LogEvent(logrus.InfoLevel, "Event stream closed by client", logrus.Fields{
				"client_id": clientID,
			})
			return

		case <-lifetime.C:
			writeEvent(w, streamEvent{
				ID:   time.Now().UnixMilli(),
				Type: "timeout",
				Data: map[string]interface{}{
					"clientId":  clientID,
					"message":   "connection timed out, closing",
					"timestamp": time.Now().Format(time.RFC3339),
				},
			})
			flusher.Flush()
			return

		case <-heartbeat.C:
			writeEvent(w, streamEvent{
				ID:   time.Now().UnixMilli(),
				Type: "heartbeat",
				Data: map[string]interface{}{
					"clientId":  clientID,
					"message":   "heartbeat",
					"timestamp": time.Now().Format(time.RFC3339),
				},
			})
			flusher.Flush()

		case <-data.C:
			writeEvent(w, streamEvent{
				ID:   time.Now().UnixMilli(),
				Type: eventType,
				Data: map[string]interface{}{
					"clientId":  clientID,
					"timestamp": time.Now().Format(time.RFC3339),
					"value":     rand.Intn(100),
					"status":    []string{"success", "warning", "info"}[rand.Intn(3)],
				},
			})
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event streamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
