package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/esp1745/voicerag/internal/service/ai"
	conversationservice "github.com/esp1745/voicerag/internal/service/conversation"
	"github.com/esp1745/voicerag/internal/service/orchestrator"
	"github.com/esp1745/voicerag/internal/service/speech"
	"github.com/esp1745/voicerag/pkg/utils"
)

// TurnHandler abstracts the orchestrator for testing.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnReply, error)
}

// Handler serves the text chat endpoint and conversation management routes.
type Handler struct {
	turns   TurnHandler
	convSvc *conversationservice.Service
}

// New creates the chat handler.
func New(turns TurnHandler, convSvc *conversationservice.Service) *Handler {
	return &Handler{turns: turns, convSvc: convSvc}
}

// RegisterRoutes mounts chat and conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{conversationID}", h.handleGetConversation)
	r.Delete("/conversations/{conversationID}", h.handleDeleteConversation)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	ContextUsed    []string  `json:"context_used,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.turns.HandleTurn(r.Context(), orchestrator.TurnRequest{
		ConversationID: payload.ConversationID,
		Text:           payload.Message,
	})
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Response:       reply.Text,
		ConversationID: reply.ConversationID,
		Timestamp:      reply.Timestamp,
		ContextUsed:    reply.ContextUsed,
	})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.convSvc.List(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	turns, err := h.convSvc.History(r.Context(), conversationID)
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        turns,
	})
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.convSvc.Delete(r.Context(), conversationID); err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "conversation " + conversationID + " deleted",
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, conversationservice.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrUpstreamUnavailable),
		errors.Is(err, speech.ErrTranscriptionFailed):
		return http.StatusBadGateway
	case errors.Is(err, orchestrator.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
