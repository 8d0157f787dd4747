package conversation_test

import (
	"context"
	"testing"

	model "github.com/esp1745/voicerag/internal/model/conversation"
	conversationservice "github.com/esp1745/voicerag/internal/service/conversation"
)

func newService(t *testing.T, dir string) *conversationservice.Service {
	t.Helper()
	svc, err := conversationservice.NewService(dir)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc
}

func TestCreateAndHistory(t *testing.T) {
	svc := newService(t, t.TempDir())
	ctx := context.Background()

	conv, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected a conversation ID")
	}

	turns, err := svc.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(turns))
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	svc := newService(t, t.TempDir())
	ctx := context.Background()

	conv, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	contents := []string{"first", "second", "third"}
	for i, content := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		if err := svc.Append(ctx, conv.ID, model.Turn{Role: role, Content: content, Source: model.SourceText}); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	turns, err := svc.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(turns) != len(contents) {
		t.Fatalf("expected %d turns, got %d", len(contents), len(turns))
	}
	for i, content := range contents {
		if turns[i].Content != content {
			t.Fatalf("turn %d out of order: got %q want %q", i, turns[i].Content, content)
		}
		if turns[i].ID == "" {
			t.Fatalf("turn %d missing ID", i)
		}
		if turns[i].ConversationID != conv.ID {
			t.Fatalf("turn %d has wrong conversation ID: %s", i, turns[i].ConversationID)
		}
	}
}

func TestAppendUnknownConversation(t *testing.T) {
	svc := newService(t, t.TempDir())
	ctx := context.Background()

	err := svc.Append(ctx, "missing", model.Turn{Role: model.RoleUser, Content: "hi"})
	if err != conversationservice.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryUnknownConversation(t *testing.T) {
	svc := newService(t, t.TempDir())

	if _, err := svc.History(context.Background(), "missing"); err != conversationservice.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	svc := newService(t, t.TempDir())
	ctx := context.Background()

	conv, _ := svc.Create(ctx)
	if err := svc.Append(ctx, conv.ID, model.Turn{Role: model.RoleUser, Content: "original"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	turns, _ := svc.History(ctx, conv.ID)
	turns[0].Content = "mutated"

	again, _ := svc.History(ctx, conv.ID)
	if again[0].Content != "original" {
		t.Fatal("History must not expose internal state")
	}
}

func TestReplayAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	svc := newService(t, dir)
	conv, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if err := svc.Append(ctx, conv.ID, model.Turn{Role: model.RoleUser, Content: "hello", Source: model.SourceText}); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := svc.Append(ctx, conv.ID, model.Turn{Role: model.RoleAssistant, Content: "hi there", Source: model.SourceText}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	restarted := newService(t, dir)
	turns, err := restarted.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History after restart err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 replayed turns, got %d", len(turns))
	}
	if turns[0].Content != "hello" || turns[1].Content != "hi there" {
		t.Fatalf("replayed turns out of order: %+v", turns)
	}
}

func TestListSortsByMostRecent(t *testing.T) {
	svc := newService(t, t.TempDir())
	ctx := context.Background()

	first, _ := svc.Create(ctx)
	second, _ := svc.Create(ctx)

	// Appending to the first conversation makes it the most recent.
	if err := svc.Append(ctx, first.ID, model.Turn{Role: model.RoleUser, Content: "bump"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	summaries, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != first.ID {
		t.Fatalf("expected %s first, got %s", first.ID, summaries[0].ID)
	}
	if summaries[0].TurnCount != 1 {
		t.Fatalf("expected turn count 1, got %d", summaries[0].TurnCount)
	}
	if summaries[1].ID != second.ID {
		t.Fatalf("expected %s second, got %s", second.ID, summaries[1].ID)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, dir)
	ctx := context.Background()

	conv, _ := svc.Create(ctx)
	if err := svc.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := svc.History(ctx, conv.ID); err != conversationservice.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// The backing file must be gone so a restart does not resurrect it.
	restarted := newService(t, dir)
	if _, err := restarted.History(ctx, conv.ID); err != conversationservice.ErrNotFound {
		t.Fatalf("deleted conversation came back after restart: %v", err)
	}
}

func TestDeleteUnknownConversation(t *testing.T) {
	svc := newService(t, t.TempDir())

	if err := svc.Delete(context.Background(), "missing"); err != conversationservice.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
