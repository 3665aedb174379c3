package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Handler streams broker events to one HTTP client. On connect it sends a
// "connected" frame, then the current value from initial (when non-nil), and
// heartbeat comments while idle.
func Handler(b Broker, heartbeat time.Duration, initial func() any, logger *zap.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, cleanup, err := b.Subscribe(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrTooManyClients) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		defer cleanup()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		hello := Event{Type: EventTypeConnected, Data: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}}
		if err := WriteEvent(w, hello); err != nil {
			return
		}
		if initial != nil {
			if err := WriteEvent(w, Event{Type: EventTypeStatus, Data: initial()}); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := WriteEvent(w, event); err != nil {
					logger.Debug("status stream write failed", zap.Error(err))
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

// WriteEvent writes one SSE frame to w.
func WriteEvent(w io.Writer, event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}
