package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/esp1745/voicerag/internal/model/conversation"
	"github.com/esp1745/voicerag/internal/model/document"
	"github.com/esp1745/voicerag/internal/service/ai"
	"github.com/esp1745/voicerag/internal/service/orchestrator"
	"github.com/esp1745/voicerag/internal/service/speech"
)

type fakeStore struct {
	nextID  int
	turns   map[string][]conversation.Turn
	created []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: make(map[string][]conversation.Turn)}
}

func (f *fakeStore) Create(_ context.Context) (conversation.Conversation, error) {
	f.nextID++
	id := fmt.Sprintf("conv-%d", f.nextID)
	f.turns[id] = nil
	f.created = append(f.created, id)
	return conversation.Conversation{ID: id}, nil
}

func (f *fakeStore) Append(_ context.Context, conversationID string, turn conversation.Turn) error {
	if _, ok := f.turns[conversationID]; !ok {
		return errors.New("unknown conversation")
	}
	f.turns[conversationID] = append(f.turns[conversationID], turn)
	return nil
}

func (f *fakeStore) History(_ context.Context, conversationID string) ([]conversation.Turn, error) {
	turns, ok := f.turns[conversationID]
	if !ok {
		return nil, errors.New("unknown conversation")
	}
	return turns, nil
}

type fakeRetriever struct {
	passages []document.ScoredPassage
	err      error
}

func (f *fakeRetriever) Query(_ context.Context, _ string, _ int) ([]document.ScoredPassage, error) {
	return f.passages, f.err
}

type fakeGenerator struct {
	reply  string
	err    error
	inputs []ai.Input
}

func (f *fakeGenerator) Generate(_ context.Context, in ai.Input) (string, error) {
	f.inputs = append(f.inputs, in)
	return f.reply, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, f.err
}

type fakeSynthesizer struct {
	audio []byte
	err   error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string) ([]byte, string, error) {
	return f.audio, "mp3", f.err
}

func TestTextTurnCreatesConversation(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "hello there"}
	svc := orchestrator.NewService(store, nil, gen, nil, nil, 3)

	reply, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}
	if reply.ConversationID == "" {
		t.Fatal("expected a conversation ID")
	}
	if reply.Text != "hello there" {
		t.Fatalf("unexpected reply text: %q", reply.Text)
	}

	turns := store.turns[reply.ConversationID]
	if len(turns) != 2 {
		t.Fatalf("expected 2 appended turns, got %d", len(turns))
	}
	if turns[0].Role != conversation.RoleUser || turns[0].Content != "hi" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != conversation.RoleAssistant || turns[1].Content != "hello there" {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
}

func TestFollowUpSeesPriorTurns(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "reply"}
	svc := orchestrator.NewService(store, nil, gen, nil, nil, 3)

	first, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "first"})
	if err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}

	_, err = svc.HandleTurn(context.Background(), orchestrator.TurnRequest{
		ConversationID: first.ConversationID,
		Text:           "second",
	})
	if err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}

	if len(gen.inputs) != 2 {
		t.Fatalf("expected 2 generator calls, got %d", len(gen.inputs))
	}
	if len(gen.inputs[0].History) != 0 {
		t.Fatalf("first turn should see empty history, got %d", len(gen.inputs[0].History))
	}
	if len(gen.inputs[1].History) != 2 {
		t.Fatalf("second turn should see 2 prior turns, got %d", len(gen.inputs[1].History))
	}
	if gen.inputs[1].History[0].Content != "first" {
		t.Fatalf("history out of order: %+v", gen.inputs[1].History)
	}
	if len(store.turns[first.ConversationID]) != 4 {
		t.Fatalf("expected 4 turns after two exchanges, got %d", len(store.turns[first.ConversationID]))
	}
}

func TestRetrievedContextReachesGenerator(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "grounded reply"}
	retriever := &fakeRetriever{passages: []document.ScoredPassage{
		{Passage: document.Passage{Filename: "guide.md", Content: "useful fact"}, Score: 0.9},
	}}
	svc := orchestrator.NewService(store, retriever, gen, nil, nil, 3)

	reply, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "question"})
	if err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}

	if len(gen.inputs[0].Context) != 1 {
		t.Fatalf("expected 1 context passage, got %d", len(gen.inputs[0].Context))
	}
	if !strings.Contains(gen.inputs[0].Context[0], "guide.md") || !strings.Contains(gen.inputs[0].Context[0], "useful fact") {
		t.Fatalf("context passage malformed: %q", gen.inputs[0].Context[0])
	}
	if len(reply.ContextUsed) != 1 {
		t.Fatalf("expected ContextUsed on reply, got %v", reply.ContextUsed)
	}

	turns := store.turns[reply.ConversationID]
	if !turns[1].ContextUsed {
		t.Fatal("assistant turn should record that context was used")
	}
}

func TestRetrievalFailureDegradesToNoContext(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "still answered"}
	retriever := &fakeRetriever{err: errors.New("index down")}
	svc := orchestrator.NewService(store, retriever, gen, nil, nil, 3)

	reply, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "question"})
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if len(gen.inputs[0].Context) != 0 {
		t.Fatalf("expected empty context, got %v", gen.inputs[0].Context)
	}
	if reply.Text != "still answered" {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestVoiceTurn(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "spoken reply"}
	transcriber := &fakeTranscriber{text: "what is the price"}
	synthesizer := &fakeSynthesizer{audio: []byte("mp3-bytes")}
	svc := orchestrator.NewService(store, nil, gen, transcriber, synthesizer, 3)

	reply, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{
		Audio:     []byte{0xFF, 0xFB, 0x90},
		WantAudio: true,
	})
	if err != nil {
		t.Fatalf("HandleTurn err: %v", err)
	}
	if reply.Transcript != "what is the price" {
		t.Fatalf("unexpected transcript: %q", reply.Transcript)
	}
	if string(reply.Audio) != "mp3-bytes" || reply.AudioFormat != "mp3" {
		t.Fatalf("unexpected audio reply: %q %q", reply.Audio, reply.AudioFormat)
	}

	turns := store.turns[reply.ConversationID]
	if turns[0].Content != "what is the price" || turns[0].Source != conversation.SourceVoice {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
}

func TestTranscriptionFailureAppendsNothing(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "unused"}
	transcriber := &fakeTranscriber{err: speech.ErrTranscriptionFailed}
	svc := orchestrator.NewService(store, nil, gen, transcriber, nil, 3)

	_, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Audio: []byte{1, 2, 3}})
	if !errors.Is(err, speech.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatal("no conversation should be created on transcription failure")
	}
}

func TestGenerationFailureAppendsNothing(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{err: ai.ErrUpstreamUnavailable}
	svc := orchestrator.NewService(store, nil, gen, nil, nil, 3)

	_, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "hi"})
	if !errors.Is(err, ai.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	for id, turns := range store.turns {
		if len(turns) != 0 {
			t.Fatalf("conversation %s has %d turns after failed generation", id, len(turns))
		}
	}
}

func TestSynthesisFailureDegradesToText(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "text reply"}
	synthesizer := &fakeSynthesizer{err: speech.ErrSynthesisFailed}
	svc := orchestrator.NewService(store, nil, gen, nil, synthesizer, 3)

	reply, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "hi", WantAudio: true})
	if err != nil {
		t.Fatalf("synthesis failure must not fail the turn: %v", err)
	}
	if !reply.SynthesisFailed {
		t.Fatal("expected SynthesisFailed flag")
	}
	if len(reply.Audio) != 0 {
		t.Fatal("expected no audio on synthesis failure")
	}
	if len(store.turns[reply.ConversationID]) != 2 {
		t.Fatal("turn should still be persisted")
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{reply: "unused"}
	svc := orchestrator.NewService(store, nil, gen, nil, nil, 3)

	if _, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{}); err == nil {
		t.Fatal("expected error for empty message")
	}
	if len(store.created) != 0 {
		t.Fatal("no conversation should be created for an empty message")
	}
}

func TestNoGeneratorConfigured(t *testing.T) {
	store := newFakeStore()
	svc := orchestrator.NewService(store, nil, nil, nil, nil, 3)

	_, err := svc.HandleTurn(context.Background(), orchestrator.TurnRequest{Text: "hi"})
	if !errors.Is(err, orchestrator.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
