package conversation

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	turns := []Turn{
		{Role: "user", Content: "¿Cuánto IVA aplico?", CreatedAt: time.Now()},
		{Role: "assistant", Content: "El tipo general es del 21%.", Citations: []string{"doc-1"}, CreatedAt: time.Now()},
	}
	for _, turn := range turns {
		if err := s.AppendTurn(ctx, "conv-1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := s.History(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History returned %d turns, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("turn order = [%s %s], want [user assistant]", got[0].Role, got[1].Role)
	}
	if len(got[1].Citations) != 1 || got[1].Citations[0] != "doc-1" {
		t.Errorf("citations = %v, want [doc-1]", got[1].Citations)
	}
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		if err := s.AppendTurn(ctx, "conv-1", Turn{Role: "user", Content: content}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := s.History(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History(2) returned %d turns", len(got))
	}
	if got[0].Content != "d" || got[1].Content != "e" {
		t.Errorf("History(2) = [%s %s], want [d e]", got[0].Content, got[1].Content)
	}
}

func TestMemoryStoreIsolatesConversations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.AppendTurn(ctx, "conv-1", Turn{Role: "user", Content: "hola"})

	got, err := s.History(ctx, "conv-2", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("conv-2 history has %d turns, want 0", len(got))
	}
}
