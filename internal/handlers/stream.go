package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/logging"
	"github.com/campusfriends/backend/internal/relationships"
)

const (
	streamSendBuffer  = 64
	streamWriteWait   = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	streamReadLimit   = 512
	changeMessageType = "relationship_change"
)

// StreamHandler upgrades authenticated callers to a websocket that carries
// their relationship changes. Delivery is best-effort; a client that falls
// behind loses events and should re-read status.
type StreamHandler struct {
	Changes ChangeSubscriber
	// CheckOrigin overrides the same-origin check performed during the upgrade.
	CheckOrigin func(r *http.Request) bool
	// PongWait bounds how long a silent client stays connected. Pings are sent
	// at nine tenths of this interval.
	PongWait time.Duration
}

type streamMessage struct {
	Type   string               `json:"type"`
	Change relationships.Change `json:"change"`
}

// Handle implements GET /api/v1/relationships/stream.
func (h StreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	callerID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "unauthorized"})
		return
	}
	if h.Changes == nil {
		logger.Error("change stream unavailable")
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "change stream unavailable", Code: "unavailable"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pongWait := h.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}

	send := make(chan []byte, streamSendBuffer)
	done := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(done) }) }

	unsubscribe := h.Changes.Subscribe(callerID, func(change relationships.Change) {
		data, err := json.Marshal(streamMessage{Type: changeMessageType, Change: change})
		if err != nil {
			logger.Error("encode relationship change", "error", err)
			return
		}
		select {
		case <-done:
		case send <- data:
		default:
			logger.Warn("stream client too slow, change dropped", "transition", change.Transition)
		}
	})
	defer unsubscribe()

	logger.Info("change stream connected")
	go readPump(conn, pongWait, stop)
	writePump(conn, send, done, pongWait*9/10)
	logger.Info("change stream disconnected")
}

// readPump discards client frames and stops the stream once the peer goes away.
func readPump(conn *websocket.Conn, pongWait time.Duration, stop func()) {
	defer stop()

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
