package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"votegate/internal/engine"
	"votegate/internal/notify"
	"votegate/internal/session"
	"votegate/internal/web/middleware"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// upgrader enforces the same origin whitelist as the CORS middleware. CORS
// headers do not apply to WebSocket handshakes, so the upgrade checks the
// Origin header itself; non-browser clients send no Origin and pass.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || middleware.OriginAllowed(origin)
	},
}

// StreamHandler pushes live session events to browsers over WebSocket or SSE.
type StreamHandler struct {
	engine *engine.Engine
	broker *notify.Broker
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(eng *engine.Engine, broker *notify.Broker) *StreamHandler {
	return &StreamHandler{engine: eng, broker: broker}
}

// terminalEvent reports whether an event ends the stream.
func terminalEvent(ev notify.Event) bool {
	if ev.Type == "error" {
		return true
	}
	return session.Status(ev.Status).Terminal()
}

// WebSocket upgrades the connection and streams session events until the
// session reaches a terminal status or the client disconnects.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	sess, err := h.engine.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Printf("websocket upgrade failed for session %s: %v", sanitizeForLog(sessionID), err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(sub)

	// Discard inbound frames; the read pump only detects disconnects.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvent := func(ev notify.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	// Snapshot first so a late subscriber still learns the current status.
	if err := writeEvent(notify.StatusUpdate(string(sess.Status), "")); err != nil {
		return
	}
	if sess.Status.Terminal() {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(ev); err != nil {
				return
			}
			if terminalEvent(ev) {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}
