package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SnapshotFunc loads the current state sent right after a subscription opens
type SnapshotFunc func(ctx context.Context) (interface{}, error)

// Handler upgrades HTTP requests into topic subscriptions
type Handler struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// Subscribe upgrades the connection, registers it on topic and writes the
// snapshot as the first event. Authorization happens before this call.
func (h *Handler) Subscribe(c *gin.Context, userID, topic string, snapshot SnapshotFunc) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("userID", userID).
			Msg("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		topic:  topic,
		logger: h.logger,
	}

	// Register before loading the snapshot so no change is lost in between
	h.hub.register(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state, err := snapshot(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Str("userID", userID).Msg("Failed to load subscription snapshot")
		h.hub.unregister(client)
		conn.Close()
		return
	}

	data, err := json.Marshal(Event{Topic: topic, Type: EventSnapshot, Payload: state, At: time.Now()})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal snapshot")
		h.hub.unregister(client)
		conn.Close()
		return
	}
	if !h.hub.enqueue(client, data) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.logger.Info().
		Str("topic", topic).
		Str("userID", userID).
		Str("remoteAddr", conn.RemoteAddr().String()).
		Msg("WebSocket subscription established")
}
