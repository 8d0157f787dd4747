package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/esp1745/voicerag/internal/service/ai"
	conversationservice "github.com/esp1745/voicerag/internal/service/conversation"
	"github.com/esp1745/voicerag/internal/service/orchestrator"
	"github.com/esp1745/voicerag/internal/service/speech"
)

// TurnHandler abstracts the orchestrator for testing.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnReply, error)
}

// Handler upgrades /ws/voice connections and relays turns to the
// orchestrator. Each connection gets its own state; there is no shared
// connection registry.
type Handler struct {
	turns    TurnHandler
	upgrader websocket.Upgrader
}

// New creates the websocket voice handler.
func New(turns TurnHandler) *Handler {
	return &Handler{
		turns: turns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/voice", h.handleWebSocket)
}

// Error kinds carried on error frames.
const (
	kindInput               = "input"
	kindNotFound            = "not_found"
	kindUpstreamUnavailable = "upstream_unavailable"
	kindTranscriptionFailed = "transcription_failed"
	kindSynthesisFailed     = "synthesis_failed"
	kindInternal            = "internal"
)

type inboundFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	Data           string `json:"data,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type responseFrame struct {
	Type           string    `json:"type"`
	Text           string    `json:"text"`
	Audio          string    `json:"audio,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// wsConn serializes writes; gorilla permits only one concurrent writer, and
// the ping loop runs alongside the read loop's replies.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		http.Error(w, "voice conversation unavailable", http.StatusServiceUnavailable)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()

	log.Printf("[websocket] new voice connection from %s", r.RemoteAddr)

	conn := &wsConn{conn: raw}

	// Canceled when the read loop exits so the ping loop and any in-flight
	// turn stop with the connection.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(60 * time.Second))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.writeJSON(conn, map[string]string{
		"type":    "connection",
		"message": "Connected to voice conversation service",
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var frame inboundFrame
			if err := raw.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}

			raw.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.handleFrame(ctx, conn, frame)
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *wsConn, frame inboundFrame) {
	switch frame.Type {
	case "ping":
		h.writeJSON(conn, map[string]string{"type": "pong"})
	case "text":
		h.handleTextFrame(ctx, conn, frame)
	case "audio_data":
		h.handleAudioFrame(ctx, conn, frame)
	default:
		h.sendError(conn, kindInput, "unknown message type: "+frame.Type)
	}
}

func (h *Handler) handleTextFrame(ctx context.Context, conn *wsConn, frame inboundFrame) {
	if frame.Text == "" {
		h.sendError(conn, kindInput, "no text provided")
		return
	}

	h.runTurn(ctx, conn, orchestrator.TurnRequest{
		ConversationID: frame.ConversationID,
		Text:           frame.Text,
		WantAudio:      true,
	})
}

func (h *Handler) handleAudioFrame(ctx context.Context, conn *wsConn, frame inboundFrame) {
	if frame.Data == "" {
		h.sendError(conn, kindInput, "no audio data provided")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		h.sendError(conn, kindInput, "invalid base64 audio data")
		return
	}

	h.runTurn(ctx, conn, orchestrator.TurnRequest{
		ConversationID: frame.ConversationID,
		Audio:          audio,
		WantAudio:      true,
	})
}

func (h *Handler) runTurn(ctx context.Context, conn *wsConn, req orchestrator.TurnRequest) {
	reply, err := h.turns.HandleTurn(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Connection gone; discard the reply.
			return
		}
		h.sendError(conn, kindForError(err), err.Error())
		return
	}

	resp := responseFrame{
		Type:           "response",
		Text:           reply.Text,
		ConversationID: reply.ConversationID,
		Timestamp:      reply.Timestamp,
	}
	if len(reply.Audio) > 0 {
		resp.Audio = base64.StdEncoding.EncodeToString(reply.Audio)
	}
	h.writeJSON(conn, resp)

	if reply.SynthesisFailed {
		h.sendError(conn, kindSynthesisFailed, "speech synthesis failed; reply delivered as text only")
	}
}

func (h *Handler) sendError(conn *wsConn, kind, message string) {
	h.writeJSON(conn, errorFrame{Type: "error", Kind: kind, Message: message})
}

func (h *Handler) writeJSON(conn *wsConn, payload any) {
	if err := conn.writeJSON(payload); err != nil {
		log.Printf("[websocket] write failed: %v", err)
	}
}

// pingLoop keeps the connection alive under the read deadline.
func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func kindForError(err error) string {
	switch {
	case errors.Is(err, speech.ErrTranscriptionFailed):
		return kindTranscriptionFailed
	case errors.Is(err, speech.ErrSynthesisFailed):
		return kindSynthesisFailed
	case errors.Is(err, ai.ErrUpstreamUnavailable):
		return kindUpstreamUnavailable
	case errors.Is(err, conversationservice.ErrNotFound):
		return kindNotFound
	case errors.Is(err, orchestrator.ErrUnavailable):
		return kindUpstreamUnavailable
	default:
		return kindInternal
	}
}
