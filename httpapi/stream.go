package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/martinemde/orbit/history"
)

const streamPollInterval = 250 * time.Millisecond

var errInvalidSince = errors.New("invalid since cursor")

// parseSinceCursor reads the resume cursor from the since query parameter
// or, on SSE reconnects, the Last-Event-ID header.
func parseSinceCursor(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errInvalidSince
	}
	return seq, nil
}

// streamEventsHandler serves a loop's event stream as SSE: the persisted
// events replay first, then the stream tails the live loop until it
// reaches a terminal status. Each frame carries the event seq as its SSE
// id, so clients reconnect with Last-Event-ID and miss nothing. The
// stream ends once the loop has finished and every event is written;
// finished loops replay in full and end immediately.
func streamEventsHandler(manager *Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loopID, ok := parseLoopID(w, r)
		if !ok {
			return
		}

		if _, err := manager.Get(r.Context(), loopID); err != nil {
			if errors.Is(err, history.ErrNotFound) {
				http.Error(w, "loop not found", http.StatusNotFound)
				return
			}
			logger.Error("sse get loop failed", "loop_id", loopID, "error", err)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		cursor, err := parseSinceCursor(r)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		writeEvents := func() error {
			events, err := manager.EventsAfter(r.Context(), loopID, cursor)
			if err != nil {
				return err
			}

			for _, se := range events {
				payload, err := json.Marshal(se.Event)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", se.Seq, se.Event.Kind, payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = se.Seq
			}

			return nil
		}

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		for {
			// Snapshot liveness before draining: a loop that was already
			// finished has every event persisted, so this drain is the
			// complete tail.
			live := manager.Live(loopID)
			if err := writeEvents(); err != nil {
				logger.Error("sse write failed", "loop_id", loopID, "error", err)
				return
			}
			if !live {
				return
			}

			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect from other origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamWebSocketHandler serves the same replay-then-tail stream over a
// WebSocket, one JSON-encoded event per message. The server closes the
// connection with a normal closure once the loop finishes.
func streamWebSocketHandler(manager *Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loopID, ok := parseLoopID(w, r)
		if !ok {
			return
		}

		if _, err := manager.Get(r.Context(), loopID); err != nil {
			if errors.Is(err, history.ErrNotFound) {
				http.Error(w, "loop not found", http.StatusNotFound)
				return
			}
			logger.Error("websocket get loop failed", "loop_id", loopID, "error", err)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		cursor, err := parseSinceCursor(r)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the handshake error.
			logger.Warn("websocket upgrade failed", "loop_id", loopID, "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reads only detect the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		writeEvents := func() error {
			events, err := manager.EventsAfter(ctx, loopID, cursor)
			if err != nil {
				return err
			}

			for _, se := range events {
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(se.Event); err != nil {
					return err
				}
				cursor = se.Seq
			}

			return nil
		}

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		for {
			live := manager.Live(loopID)
			if err := writeEvents(); err != nil {
				logger.Warn("websocket write failed", "loop_id", loopID, "error", err)
				return
			}
			if !live {
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "loop finished"))
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
