package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/esp1745/voicerag/internal/model/conversation"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("conversation not found")
)

// Service manages append-only conversation state. Each conversation is backed
// by one JSONL file; the in-memory copy is authoritative for the life of the
// process and existing files are replayed at startup.
type Service struct {
	mu            sync.RWMutex
	dir           string
	conversations map[string]conversation.Conversation
	turns         map[string][]conversation.Turn
}

// NewService bootstraps the store, replaying any conversations already on disk.
func NewService(dataDir string) (*Service, error) {
	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}

	s := &Service{
		dir:           dir,
		conversations: make(map[string]conversation.Conversation),
		turns:         make(map[string][]conversation.Turn),
	}

	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

// Create provisions a new conversation with a fresh identifier.
func (s *Service) Create(_ context.Context) (conversation.Conversation, error) {
	conv := conversation.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = conv
	s.turns[conv.ID] = make([]conversation.Turn, 0, 16)

	if err := s.appendRecord(conv.ID, fileRecord{Kind: recordConversation, Conversation: &conv}); err != nil {
		delete(s.conversations, conv.ID)
		delete(s.turns, conv.ID)
		return conversation.Conversation{}, err
	}
	return conv, nil
}

// Append adds a turn to the end of the conversation history. Turns are never
// reordered or mutated after this point.
func (s *Service) Append(_ context.Context, conversationID string, turn conversation.Turn) error {
	if conversationID == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}

	turn.ID = uuid.NewString()
	turn.ConversationID = conversationID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if err := s.appendRecord(conversationID, fileRecord{Kind: recordTurn, Turn: &turn}); err != nil {
		return err
	}

	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return nil
}

// History returns stored turns in insertion order.
func (s *Service) History(_ context.Context, conversationID string) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]conversation.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// List summarizes all known conversations, most recently updated first.
func (s *Service) List(_ context.Context) ([]conversation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]conversation.Summary, 0, len(s.conversations))
	for id, conv := range s.conversations {
		summary := conversation.Summary{
			ID:        id,
			TurnCount: len(s.turns[id]),
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.CreatedAt,
		}
		if turns := s.turns[id]; len(turns) > 0 {
			summary.UpdatedAt = turns[len(turns)-1].CreatedAt
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes a conversation and its backing file.
func (s *Service) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}

	delete(s.conversations, conversationID)
	delete(s.turns, conversationID)

	if err := os.Remove(s.filePath(conversationID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove conversation file: %w", err)
	}
	return nil
}

const (
	recordConversation = "conversation"
	recordTurn         = "turn"
)

// fileRecord is one line in a conversation's JSONL file.
type fileRecord struct {
	Kind         string                     `json:"kind"`
	Conversation *conversation.Conversation `json:"conversation,omitempty"`
	Turn         *conversation.Turn         `json:"turn,omitempty"`
}

func (s *Service) filePath(conversationID string) string {
	return filepath.Join(s.dir, conversationID+".jsonl")
}

func (s *Service) appendRecord(conversationID string, record fileRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal conversation record: %w", err)
	}

	f, err := os.OpenFile(s.filePath(conversationID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open conversation file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append conversation record: %w", err)
	}
	return nil
}

// replay restores conversations from disk so identifiers survive restarts.
func (s *Service) replay() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read conversations dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".jsonl")
		if err := s.replayFile(id); err != nil {
			log.Printf("[conversation] skipping corrupt file %s: %v", entry.Name(), err)
		}
	}

	if n := len(s.conversations); n > 0 {
		log.Printf("[conversation] replayed %d conversations from %s", n, s.dir)
	}
	return nil
}

func (s *Service) replayFile(conversationID string) error {
	f, err := os.Open(s.filePath(conversationID))
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}

		switch record.Kind {
		case recordConversation:
			if record.Conversation != nil {
				s.conversations[record.Conversation.ID] = *record.Conversation
				if _, ok := s.turns[record.Conversation.ID]; !ok {
					s.turns[record.Conversation.ID] = make([]conversation.Turn, 0, 16)
				}
			}
		case recordTurn:
			if record.Turn != nil {
				s.turns[conversationID] = append(s.turns[conversationID], *record.Turn)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// A file holding only turns still identifies a conversation.
	if _, ok := s.conversations[conversationID]; !ok && len(s.turns[conversationID]) > 0 {
		s.conversations[conversationID] = conversation.Conversation{
			ID:        conversationID,
			CreatedAt: s.turns[conversationID][0].CreatedAt,
		}
	}
	return nil
}
