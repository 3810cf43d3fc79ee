package orchestrator

import (
	"context"
	"testing"
	"time"

	"ENS-Agent-Chain/internal/chat"
	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
)

func TestProcessorDrivesEventResumption(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "understood, the transaction was cancelled"},
	}}
	orch := New(store, runner)
	session := newSession(t, store)
	seedUserMessage(t, store, session)

	queue := event.NewMemoryQueue(4)
	defer queue.Close()
	processor := NewProcessor(orch, queue, WithWorkerCount(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = processor.Start(ctx)
	}()

	if err := queue.Publish(ctx, event.Event{
		SessionID: session.ID,
		Kind:      event.KindSignatureRejected,
		Reason:    "user cancelled",
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		items := sessionItems(t, store, session.ID)
		var hidden, assistant bool
		for _, item := range items {
			if item.Type == chat.ItemHiddenContext {
				hidden = true
			}
			if item.Type == chat.ItemAssistantMessage {
				assistant = true
			}
		}
		if hidden && assistant {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("event not processed in time, items: %+v", items)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if calls := runner.calls(); len(calls) != 1 {
		t.Fatalf("expected one resumed invocation, got %d", len(calls))
	}
}

// failingAppendStore simulates a transient storage outage on item writes.
type failingAppendStore struct {
	chat.Store
}

func (s *failingAppendStore) AppendItem(context.Context, string, *chat.Item) error {
	return xerrors.New(xerrors.CodeStorageFailure, "storage temporarily unavailable")
}

func TestProcessorDropsNonRetryableFailures(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{}
	processor := NewProcessor(New(store, runner), event.NewMemoryQueue(1))

	// 会话不存在属于不可重试错误，重投必然重复失败。
	err := processor.handle(context.Background(), event.Event{
		SessionID: "gone",
		Kind:      event.KindSignatureRejected,
		Reason:    "user cancelled",
	})
	if err != nil {
		t.Fatalf("non-retryable failure must be dropped, got %v", err)
	}
	if calls := runner.calls(); len(calls) != 0 {
		t.Fatalf("expected no runner invocation, got %d", len(calls))
	}
}

func TestProcessorRequeuesRetryableFailures(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{}
	orch := New(&failingAppendStore{Store: store}, runner)
	processor := NewProcessor(orch, event.NewMemoryQueue(1))

	session := newSession(t, store)
	err := processor.handle(context.Background(), event.Event{
		SessionID: session.ID,
		Kind:      event.KindWaitElapsed,
	})
	if err == nil {
		t.Fatal("retryable storage failure must propagate for redelivery")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeStorageFailure {
		t.Fatalf("unexpected error code %s: %v", code, err)
	}
}

func TestProcessorDropsUnsupportedEvents(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{}
	orch := New(store, runner)
	session := newSession(t, store)

	queue := event.NewMemoryQueue(4)
	defer queue.Close()
	processor := NewProcessor(orch, queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = processor.Start(ctx)
	}()

	if err := queue.Publish(ctx, event.Event{
		SessionID: session.ID,
		Kind:      event.Kind("price_alert"),
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if items := sessionItems(t, store, session.ID); len(items) != 0 {
		t.Fatalf("unsupported events must not mutate the session, got %d items", len(items))
	}
}
