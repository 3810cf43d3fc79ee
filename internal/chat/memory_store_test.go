package chat

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestMemoryStoreItemOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sessionID := store.CreateSessionID()
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		item := &Item{
			ID:        store.CreateItemID(ItemHiddenContext, nil),
			SessionID: sessionID,
			Type:      ItemHiddenContext,
			Content:   fmt.Sprintf("entry %d", i),
		}
		if err := store.AppendItem(ctx, sessionID, item); err != nil {
			t.Fatalf("append item %d: %v", i, err)
		}
		ids = append(ids, item.ID)
	}

	asc, err := store.LoadItems(ctx, sessionID, "", 100, OrderAsc)
	if err != nil {
		t.Fatalf("load items asc: %v", err)
	}
	if len(asc.Data) != 5 {
		t.Fatalf("expected 5 items, got %d", len(asc.Data))
	}
	for i, item := range asc.Data {
		if item.ID != ids[i] {
			t.Fatalf("item %d out of order: got %s want %s", i, item.ID, ids[i])
		}
	}

	desc, err := store.LoadItems(ctx, sessionID, "", 100, OrderDesc)
	if err != nil {
		t.Fatalf("load items desc: %v", err)
	}
	for i, item := range desc.Data {
		if item.ID != ids[len(ids)-1-i] {
			t.Fatalf("desc item %d out of order: got %s", i, item.ID)
		}
	}
}

func TestMemoryStoreUpsertItem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := store.CreateSessionID()

	first := &Item{ID: "i1", SessionID: sessionID, Type: ItemUserMessage, Content: "hello"}
	second := &Item{ID: "i2", SessionID: sessionID, Type: ItemAssistantMessage, Content: "hi"}
	if err := store.UpsertItem(ctx, sessionID, first); err != nil {
		t.Fatalf("upsert first: %v", err)
	}
	if err := store.UpsertItem(ctx, sessionID, second); err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	revised := &Item{ID: "i1", SessionID: sessionID, Type: ItemUserMessage, Content: "hello again"}
	if err := store.UpsertItem(ctx, sessionID, revised); err != nil {
		t.Fatalf("upsert revised: %v", err)
	}

	page, err := store.LoadItems(ctx, sessionID, "", 100, OrderAsc)
	if err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("expected length unchanged after replace, got %d", len(page.Data))
	}
	if page.Data[0].ID != "i1" || page.Data[0].Content != "hello again" {
		t.Fatalf("expected in-place replacement, got %+v", page.Data[0])
	}

	appended := &Item{ID: "i3", SessionID: sessionID, Type: ItemHiddenContext, Content: "note"}
	if err := store.UpsertItem(ctx, sessionID, appended); err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	page, err = store.LoadItems(ctx, sessionID, "", 100, OrderAsc)
	if err != nil {
		t.Fatalf("load items after append: %v", err)
	}
	if len(page.Data) != 3 || page.Data[2].ID != "i3" {
		t.Fatalf("expected new item appended at end, got %+v", page.Data)
	}
}

func TestMemoryStoreAppendAllowsDuplicateIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := store.CreateSessionID()

	for i := 0; i < 2; i++ {
		item := &Item{ID: "dup", SessionID: sessionID, Type: ItemHiddenContext, Content: "repeat"}
		if err := store.AppendItem(ctx, sessionID, item); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := store.LoadItems(ctx, sessionID, "", 100, OrderAsc)
	if err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("append must not dedupe, got %d items", len(page.Data))
	}
}

func TestMemoryStoreSessionNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.LoadSession(ctx, "missing"); !stdErrors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.LoadItem(ctx, "missing", "item"); !stdErrors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	sessions, err := store.ListSessions(ctx, 10, "", OrderAsc)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions.Data) != 0 {
		t.Fatalf("failed load must not mutate store, got %d sessions", len(sessions.Data))
	}
}

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &Session{ID: store.CreateSessionID(), Title: "ens chat"}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	loaded, err := store.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if loaded.Title != "ens chat" || loaded.CreatedAt == 0 {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	if err := store.AppendItem(ctx, session.ID, &Item{ID: "i1", SessionID: session.ID, Type: ItemUserMessage}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.LoadSession(ctx, session.ID); !stdErrors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	page, err := store.LoadItems(ctx, session.ID, "", 10, OrderAsc)
	if err != nil {
		t.Fatalf("load items of deleted session: %v", err)
	}
	if len(page.Data) != 0 {
		t.Fatalf("expected items removed with session, got %d", len(page.Data))
	}
}
