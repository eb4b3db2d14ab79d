package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/councild/councild/council"
	"github.com/councild/councild/events"
	"github.com/councild/councild/repository"
)

type ConversationEndpoints struct {
	store    council.ConversationStore
	pipeline *council.Pipeline
}

type MessageRequest struct {
	Content string `json:"content"`
}

type TitleRequest struct {
	Title string `json:"title"`
}

type MessageResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Stage1         []council.ModelResponse `json:"stage1"`
	Stage2         []council.Ranking       `json:"stage2"`
	Stage3         council.FinalAnswer     `json:"stage3"`
	Metadata       council.StageMetadata   `json:"metadata"`
}

func NewConversationEndpoints(store council.ConversationStore, pipeline *council.Pipeline) *ConversationEndpoints {
	return &ConversationEndpoints{
		store:    store,
		pipeline: pipeline,
	}
}

func (e *ConversationEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", e.CreateHandler)
		r.Get("/", e.ListHandler)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", e.GetHandler)
			r.Delete("/", e.DeleteHandler)
			r.Put("/title", e.UpdateTitleHandler)
			r.Post("/message", e.MessageHandler)
			r.Post("/message/stream", e.MessageStreamHandler)
		})
	})
}

func (e *ConversationEndpoints) CreateHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := e.store.Create(r.Context())
	if err != nil {
		slog.Error("Failed to create conversation", "error", err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (e *ConversationEndpoints) ListHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := e.store.List(r.Context())
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func (e *ConversationEndpoints) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := e.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

func (e *ConversationEndpoints) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := e.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete conversation", "error", err, "conversation_id", id)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (e *ConversationEndpoints) UpdateTitleHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req TitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	if err := e.store.UpdateTitle(r.Context(), id, req.Title); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to update title", "error", err, "conversation_id", id)
		http.Error(w, "Failed to update title", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id, "title": req.Title})
}

// MessageHandler runs a full council turn and responds with the settled
// result once synthesis and persistence are done.
func (e *ConversationEndpoints) MessageHandler(w http.ResponseWriter, r *http.Request) {
	if e.pipeline == nil {
		http.Error(w, "Council is not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "conversationID")

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	result, err := e.pipeline.Run(r.Context(), id, req.Content, council.NopSink{})
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		slog.Error("Council run failed", "error", err, "conversation_id", id)
		http.Error(w, "Council run failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MessageResponse{
		ConversationID: id,
		Stage1:         result.Stage1,
		Stage2:         result.Stage2,
		Stage3:         result.Stage3,
		Metadata:       result.Metadata,
	})
}

// MessageStreamHandler runs a council turn and streams its lifecycle events
// as server-sent events, one JSON frame per event, in pipeline order.
func (e *ConversationEndpoints) MessageStreamHandler(w http.ResponseWriter, r *http.Request) {
	if e.pipeline == nil {
		http.Error(w, "Council is not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "conversationID")

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	// Reject unknown conversations before committing to the stream response.
	if _, err := e.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	stream, err := events.NewStream(uuid.New().String())
	if err != nil {
		slog.Error("Failed to open event stream", "error", err, "conversation_id", id)
		http.Error(w, "Failed to open event stream", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	go func() {
		defer stream.Close()
		if _, err := e.pipeline.Run(r.Context(), id, req.Content, stream); err != nil {
			slog.Error("Streamed council run failed", "error", err, "conversation_id", id)
		}
	}()

	for msg := range stream.Events() {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", msg.Payload); err != nil {
			slog.Warn("Stream client went away", "conversation_id", id, "error", err)
			msg.Ack()
			// Unblock the publishing run; its remaining events are dropped.
			stream.Close()
			return
		}
		flusher.Flush()
		msg.Ack()
	}
}
