package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"brokerbot/internal/models"
)

func sampleSession(sess *models.Session) {
	now := time.Now().UTC()
	sess.Chunks = []models.Chunk{
		{
			ChunkID: "chunk-1",
			Messages: []models.Message{
				{Role: models.RoleUser, Content: "first", TokenCount: 2, CreatedAt: now},
				{Role: models.RoleAssistant, Content: "second", TokenCount: 2, CreatedAt: now},
			},
			TotalTokens: 4,
			CreatedAt:   now,
			Summary:     "intro exchange",
		},
	}
	sess.ActiveMessages = []models.Message{
		{Role: models.RoleUser, Content: "third", TokenCount: 2, CreatedAt: now},
	}
	sess.TotalMessages = 3
}

func assertRoundTrip(t *testing.T, saved, loaded *models.Session) {
	t.Helper()
	if loaded.SessionID != saved.SessionID {
		t.Fatalf("session id = %q, want %q", loaded.SessionID, saved.SessionID)
	}
	if loaded.TotalMessages != saved.TotalMessages {
		t.Errorf("total_messages = %d, want %d", loaded.TotalMessages, saved.TotalMessages)
	}
	if len(loaded.Chunks) != len(saved.Chunks) {
		t.Fatalf("chunks = %d, want %d", len(loaded.Chunks), len(saved.Chunks))
	}
	for i := range saved.Chunks {
		want, got := saved.Chunks[i], loaded.Chunks[i]
		if got.Summary != want.Summary || got.TotalTokens != want.TotalTokens {
			t.Errorf("chunk %d metadata mismatch", i)
		}
		if len(got.Messages) != len(want.Messages) {
			t.Fatalf("chunk %d holds %d messages, want %d", i, len(got.Messages), len(want.Messages))
		}
		for j := range want.Messages {
			if got.Messages[j].Content != want.Messages[j].Content || got.Messages[j].Role != want.Messages[j].Role {
				t.Errorf("chunk %d message %d mismatch", i, j)
			}
		}
	}
	if len(loaded.ActiveMessages) != len(saved.ActiveMessages) {
		t.Fatalf("active = %d, want %d", len(loaded.ActiveMessages), len(saved.ActiveMessages))
	}
	for i := range saved.ActiveMessages {
		if loaded.ActiveMessages[i].Content != saved.ActiveMessages[i].Content {
			t.Errorf("active message %d mismatch", i)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(24 * time.Hour)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sampleSession(sess)
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := store.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	assertRoundTrip(t, sess, loaded)
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore(24 * time.Hour)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx)
	sampleSession(sess)
	store.SaveSession(ctx, sess)

	loaded, _ := store.GetSession(ctx, sess.SessionID)
	loaded.ActiveMessages[0].Content = "mutated"
	loaded.Chunks[0].Messages[0].Content = "mutated"

	fresh, _ := store.GetSession(ctx, sess.SessionID)
	if fresh.ActiveMessages[0].Content == "mutated" || fresh.Chunks[0].Messages[0].Content == "mutated" {
		t.Error("callers must not share slices with the registry")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(24 * time.Hour)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx)
	if err := store.DeleteSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get after delete = %v, want ErrSessionNotFound", err)
	}
	if err := store.DeleteSession(ctx, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double delete = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(30 * time.Millisecond)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx)
	time.Sleep(50 * time.Millisecond)

	if _, err := store.GetSession(ctx, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session should read as not found, got %v", err)
	}
	ids, _ := store.ListSessions(ctx)
	if len(ids) != 0 {
		t.Errorf("expired session must be absent from ListSessions, got %v", ids)
	}
	all, _ := store.ListAll(ctx)
	if len(all) != 1 {
		t.Errorf("ListAll should still see the expired session, got %v", all)
	}

	removed, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("swept %d, want 1", removed)
	}
	all, _ = store.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("swept session should be gone, got %v", all)
	}
}

func TestMemoryStoreDeleteIfExpired(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx)
	deleted, err := store.DeleteIfExpired(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("DeleteIfExpired: %v", err)
	}
	if deleted {
		t.Error("live session must not be deleted")
	}

	sess.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	store.SaveSession(ctx, sess)
	deleted, err = store.DeleteIfExpired(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("DeleteIfExpired: %v", err)
	}
	if !deleted {
		t.Error("stale session should be deleted")
	}
}
