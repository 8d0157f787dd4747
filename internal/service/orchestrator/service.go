package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/esp1745/voicerag/internal/model/conversation"
	"github.com/esp1745/voicerag/internal/model/document"
	"github.com/esp1745/voicerag/internal/service/ai"
)

// ErrUnavailable reports a capability the deployment was not configured with.
var ErrUnavailable = errors.New("capability unavailable")

// ConversationStore is the conversation state the orchestrator depends on.
type ConversationStore interface {
	Create(ctx context.Context) (conversation.Conversation, error)
	Append(ctx context.Context, conversationID string, turn conversation.Turn) error
	History(ctx context.Context, conversationID string) ([]conversation.Turn, error)
}

// Retriever looks up passages relevant to a query. Implementations degrade to
// an empty result on upstream failure.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]document.ScoredPassage, error)
}

// Generator produces one assistant reply.
type Generator interface {
	Generate(ctx context.Context, in ai.Input) (string, error)
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer converts reply text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// TurnRequest is one user utterance, as text or audio.
type TurnRequest struct {
	ConversationID string
	Text           string
	Audio          []byte
	AudioFormat    string
	WantAudio      bool
}

// TurnReply is the assistant's answer to a turn.
type TurnReply struct {
	ConversationID  string
	Text            string
	Transcript      string
	Audio           []byte
	AudioFormat     string
	ContextUsed     []string
	SynthesisFailed bool
	Timestamp       time.Time
}

// Service sequences one conversation turn: transcribe, retrieve, generate,
// persist, synthesize. All heavy lifting is delegated to the injected
// collaborators.
type Service struct {
	store       ConversationStore
	retriever   Retriever
	generator   Generator
	transcriber Transcriber
	synthesizer Synthesizer
	topK        int

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock is reference-counted so idle conversations do not pin a map entry
// forever.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewService wires the orchestrator. retriever, transcriber, and synthesizer
// may be nil when the deployment lacks those capabilities; generator and
// store are required.
func NewService(store ConversationStore, retriever Retriever, generator Generator, transcriber Transcriber, synthesizer Synthesizer, topK int) *Service {
	if topK <= 0 {
		topK = 3
	}
	return &Service{
		store:       store,
		retriever:   retriever,
		generator:   generator,
		transcriber: transcriber,
		synthesizer: synthesizer,
		topK:        topK,
		locks:       make(map[string]*convLock),
	}
}

// HandleTurn runs the full pipeline for one user turn. On success exactly two
// turns are appended to the conversation: the user's and the assistant's.
// Failures before generation append nothing.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	if s.generator == nil {
		return TurnReply{}, fmt.Errorf("%w: language model not configured", ErrUnavailable)
	}

	userText := req.Text
	source := conversation.SourceText

	if len(req.Audio) > 0 {
		if s.transcriber == nil {
			return TurnReply{}, fmt.Errorf("%w: transcription not configured", ErrUnavailable)
		}
		transcript, err := s.transcriber.Transcribe(ctx, req.Audio, req.AudioFormat)
		if err != nil {
			log.Printf("[orchestrator] transcription failed conversation=%s: %v", req.ConversationID, err)
			return TurnReply{}, err
		}
		userText = transcript
		source = conversation.SourceVoice
	}

	if userText == "" {
		return TurnReply{}, fmt.Errorf("empty message")
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := s.store.Create(ctx)
		if err != nil {
			return TurnReply{}, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
	}

	// Serialize turns racing on the same conversation.
	unlock := s.lockConversation(conversationID)
	defer unlock()

	history, err := s.store.History(ctx, conversationID)
	if err != nil {
		return TurnReply{}, err
	}

	contextBlock := s.retrieveContext(ctx, conversationID, userText)

	replyText, err := s.generator.Generate(ctx, ai.Input{
		Context: contextBlock,
		History: history,
		Query:   userText,
	})
	if err != nil {
		log.Printf("[orchestrator] generation failed conversation=%s: %v", conversationID, err)
		return TurnReply{}, err
	}

	userTurn := conversation.Turn{
		Role:    conversation.RoleUser,
		Content: userText,
		Source:  source,
	}
	assistantTurn := conversation.Turn{
		Role:        conversation.RoleAssistant,
		Content:     replyText,
		Source:      source,
		ContextUsed: len(contextBlock) > 0,
	}
	if err := s.store.Append(ctx, conversationID, userTurn); err != nil {
		return TurnReply{}, fmt.Errorf("append user turn: %w", err)
	}
	if err := s.store.Append(ctx, conversationID, assistantTurn); err != nil {
		return TurnReply{}, fmt.Errorf("append assistant turn: %w", err)
	}

	reply := TurnReply{
		ConversationID: conversationID,
		Text:           replyText,
		ContextUsed:    contextBlock,
		Timestamp:      time.Now().UTC(),
	}
	if source == conversation.SourceVoice {
		reply.Transcript = userText
	}

	if req.WantAudio && s.synthesizer != nil {
		audio, format, synthErr := s.synthesizer.Synthesize(ctx, replyText)
		if synthErr != nil {
			// The turn has already been persisted; degrade to text-only.
			log.Printf("[orchestrator] synthesis failed conversation=%s: %v", conversationID, synthErr)
			reply.SynthesisFailed = true
		} else {
			reply.Audio = audio
			reply.AudioFormat = format
		}
	}

	return reply, nil
}

// retrieveContext queries the index for passages; any failure (or a missing
// retriever) yields an empty context block.
func (s *Service) retrieveContext(ctx context.Context, conversationID, userText string) []string {
	if s.retriever == nil {
		return nil
	}

	results, err := s.retriever.Query(ctx, userText, s.topK)
	if err != nil {
		log.Printf("[orchestrator] retrieval failed conversation=%s, continuing without context: %v", conversationID, err)
		return nil
	}

	contextBlock := make([]string, 0, len(results))
	for _, r := range results {
		contextBlock = append(contextBlock, fmt.Sprintf("From %s: %s", r.Filename, r.Content))
	}
	return contextBlock
}

func (s *Service) lockConversation(conversationID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &convLock{}
		s.locks[conversationID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.mu.Unlock()
	}
}
