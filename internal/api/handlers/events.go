package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xuecangming/transfer-queue/internal/core/events"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
)

const (
	eventBuffer  = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// EventHandler streams queue events over a websocket
type EventHandler struct {
	notifier *events.Notifier
	upgrader websocket.Upgrader
}

// NewEventHandler creates a new event handler
func NewEventHandler(notifier *events.Notifier) *EventHandler {
	return &EventHandler{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// CORS is enforced by middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream handles GET /events. Each event is sent as one JSON text message.
// Events are dropped for clients that fall more than eventBuffer behind.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		logger.Warn("Websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.notifier.SubscribeChannel(eventBuffer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug("Event stream closed", logger.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
