package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/councild/councild/council"
	"github.com/councild/councild/events"
	ws "github.com/councild/councild/websocket"
)

// safeSend tries to send a message to the client channel, recovers if closed
func safeSend(ch chan<- []byte, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			// Channel is closed, ignore
		}
	}()
	select {
	case ch <- msg:
		// sent
	default:
		// channel full or closed
	}
}

type WebSocketHandler struct {
	pipeline *council.Pipeline
}

func NewWebSocketHandler(pipeline *council.Pipeline) *WebSocketHandler {
	return &WebSocketHandler{
		pipeline: pipeline,
	}
}

// HandleWebSocketMessage processes incoming frames. A send_message frame
// starts a council run for the named conversation and forwards every
// lifecycle event to the client in order.
func (h *WebSocketHandler) HandleWebSocketMessage(client *ws.Client, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err)
		return
	}

	switch msg.Type {
	case "send_message":
		h.handleSendMessage(client, msg)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
	}
}

func (h *WebSocketHandler) handleSendMessage(client *ws.Client, msg ws.Message) {
	if msg.ConversationID == "" || strings.TrimSpace(msg.Content) == "" {
		h.sendError(client, "conversation_id and content are required")
		return
	}

	stream, err := events.NewStream(uuid.New().String())
	if err != nil {
		slog.Error("Failed to open event stream", "error", err, "session_id", client.SessionID)
		h.sendError(client, "failed to start council run")
		return
	}

	go func() {
		defer stream.Close()
		if _, err := h.pipeline.Run(context.Background(), msg.ConversationID, msg.Content, stream); err != nil {
			slog.Error("Council run failed", "error", err, "conversation_id", msg.ConversationID, "session_id", client.SessionID)
		}
	}()

	for m := range stream.Events() {
		safeSend(client.Send, m.Payload)
		m.Ack()
	}
}

func (h *WebSocketHandler) sendError(client *ws.Client, message string) {
	payload, err := json.Marshal(council.Event{Type: council.EventError, Message: message})
	if err != nil {
		return
	}
	safeSend(client.Send, payload)
}
