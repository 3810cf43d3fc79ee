package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"ENS-Agent-Chain/internal/chat"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
)

// scriptedRunner 按固定脚本回放推理事件并记录每次调用的输入。
type scriptedRunner struct {
	mu       sync.Mutex
	script   []llm.StreamEvent
	requests []llm.Request
}

func (r *scriptedRunner) Run(_ context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	out := make(chan llm.StreamEvent, len(r.script))
	for _, evt := range r.script {
		out <- evt
	}
	close(out)
	return out, nil
}

func (r *scriptedRunner) calls() []llm.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.Request(nil), r.requests...)
}

func newSession(t *testing.T, store chat.Store) *chat.Session {
	t.Helper()
	session := &chat.Session{ID: store.CreateSessionID(), Title: "test"}
	if err := store.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("save session failed: %v", err)
	}
	return session
}

func drain(t *testing.T, stream <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for evt := range stream {
		events = append(events, evt)
	}
	return events
}

func sessionItems(t *testing.T, store chat.Store, sessionID string) []*chat.Item {
	t.Helper()
	page, err := store.LoadItems(context.Background(), sessionID, "", 100, chat.OrderAsc)
	if err != nil {
		t.Fatalf("load items failed: %v", err)
	}
	return page.Data
}

func TestRespondPersistsUserAndAssistantMessages(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventDelta, Delta: "cool"},
		{Kind: llm.EventDelta, Delta: "name.eth is available"},
		{Kind: llm.EventMessage, Message: "coolname.eth is available"},
	}}
	orch := New(store, runner)
	session := newSession(t, store)

	stream, err := orch.Respond(context.Background(), session.ID, "is coolname.eth free?", RequestContext{})
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	events := drain(t, stream)

	var deltas, finals int
	for _, evt := range events {
		switch evt.Kind {
		case EventDelta:
			deltas++
		case EventItem:
			finals++
			if evt.Item.Type != chat.ItemAssistantMessage {
				t.Fatalf("unexpected item type: %s", evt.Item.Type)
			}
		}
	}
	if deltas != 2 || finals != 1 {
		t.Fatalf("unexpected event mix: %d deltas, %d items", deltas, finals)
	}

	items := sessionItems(t, store, session.ID)
	if len(items) != 2 {
		t.Fatalf("expected user + assistant items, got %d", len(items))
	}
	if items[0].Type != chat.ItemUserMessage || items[1].Type != chat.ItemAssistantMessage {
		t.Fatalf("items out of order: %s, %s", items[0].Type, items[1].Type)
	}
}

func TestRespondInjectsWalletContext(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "ok"},
	}}
	orch := New(store, runner)
	session := newSession(t, store)

	stream, err := orch.Respond(context.Background(), session.ID, "register coolname", RequestContext{
		WalletAddress: "0xCAFE",
		ChainID:       "11155111",
	})
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	drain(t, stream)

	calls := runner.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(calls))
	}
	first := calls[0].Items[0]
	if first.Role != "developer" || !strings.Contains(first.Content, "0xCAFE") {
		t.Fatalf("wallet context not injected first: %+v", first)
	}
	if !strings.Contains(first.Content, "11155111") {
		t.Fatalf("chain id missing from wallet context: %s", first.Content)
	}

	// 钱包上下文只注入推理输入，绝不落盘。
	for _, item := range sessionItems(t, store, session.ID) {
		if strings.Contains(item.Content, "0xCAFE") {
			t.Fatalf("wallet context leaked into the store: %+v", item)
		}
	}
}

func TestRespondDirectiveIsTerminalAndNotPersisted(t *testing.T) {
	store := chat.NewMemoryStore()
	directive := &llm.ClientToolCall{Name: "sign", Arguments: map[string]any{"operation": "commit"}}
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "please sign the commit transaction"},
		{Kind: llm.EventDirective, Directive: directive},
	}}
	orch := New(store, runner)
	session := newSession(t, store)

	stream, err := orch.Respond(context.Background(), session.ID, "go ahead", RequestContext{})
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	events := drain(t, stream)

	last := events[len(events)-1]
	if last.Kind != EventDirective || last.Directive.Name != "sign" {
		t.Fatalf("directive must be the terminal event, got %+v", last)
	}
	for _, item := range sessionItems(t, store, session.ID) {
		if item.Type == chat.ItemClientToolCall {
			t.Fatalf("directive must not be persisted: %+v", item)
		}
	}
}

func TestHandleEventRejectedAppendsHiddenAndResumes(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "understood, the transaction was cancelled"},
	}}
	orch := New(store, runner)
	session := newSession(t, store)
	seedUserMessage(t, store, session)

	stream, err := orch.HandleEvent(context.Background(), session.ID, event.Event{
		SessionID: session.ID,
		Kind:      event.KindSignatureRejected,
		Reason:    "user cancelled",
	}, RequestContext{})
	if err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	events := drain(t, stream)

	if events[0].Kind != EventHiddenItem {
		t.Fatalf("hidden item must be announced first, got %+v", events[0])
	}
	if events[0].Item.Content != "transaction rejected by user: user cancelled" {
		t.Fatalf("unexpected hidden text: %s", events[0].Item.Content)
	}

	var hidden int
	for _, item := range sessionItems(t, store, session.ID) {
		if item.Type == chat.ItemHiddenContext {
			hidden++
		}
	}
	if hidden != 1 {
		t.Fatalf("expected exactly one hidden item, got %d", hidden)
	}
	if len(runner.calls()) != 1 {
		t.Fatalf("expected exactly one resumed invocation, got %d", len(runner.calls()))
	}
}

func TestHandleEventWaitElapsedHiddenText(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "proceeding with the register step"},
	}}
	orch := New(store, runner)
	session := newSession(t, store)
	seedUserMessage(t, store, session)

	stream, err := orch.HandleEvent(context.Background(), session.ID, event.Event{
		SessionID: session.ID,
		Kind:      event.KindWaitElapsed,
	}, RequestContext{})
	if err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	events := drain(t, stream)
	if events[0].Item.Content != "the mandatory wait period is complete; ready to proceed" {
		t.Fatalf("unexpected hidden text: %s", events[0].Item.Content)
	}
}

func TestHandleEventIdentityLinkedDoesNotResume(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{}
	orch := New(store, runner)
	session := newSession(t, store)

	stream, err := orch.HandleEvent(context.Background(), session.ID, event.Event{
		SessionID: session.ID,
		Kind:      event.KindIdentityLinked,
		Address:   "0xCAFE",
		ChainID:   "1",
	}, RequestContext{})
	if err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	events := drain(t, stream)

	if len(events) != 1 || events[0].Kind != EventHiddenItem {
		t.Fatalf("identity link must only announce the hidden item, got %+v", events)
	}
	if events[0].Item.Content != "user's identity is linked: 0xCAFE on chain 1" {
		t.Fatalf("unexpected hidden text: %s", events[0].Item.Content)
	}
	if len(runner.calls()) != 0 {
		t.Fatalf("identity link must not re-invoke the reasoning engine, got %d calls", len(runner.calls()))
	}
}

func TestHandleEventUnknownKindNoMutation(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{}
	orch := New(store, runner)
	session := newSession(t, store)

	_, err := orch.HandleEvent(context.Background(), session.ID, event.Event{
		SessionID: session.ID,
		Kind:      event.Kind("price_alert"),
	}, RequestContext{})
	if err == nil {
		t.Fatal("expected an unsupported event error")
	}
	if items := sessionItems(t, store, session.ID); len(items) != 0 {
		t.Fatalf("unknown events must not mutate the session, got %d items", len(items))
	}
	if len(runner.calls()) != 0 {
		t.Fatal("unknown events must not invoke the reasoning engine")
	}
}

type fixedVerifier struct {
	status string
}

func (v *fixedVerifier) CheckReceipt(context.Context, string, string) (string, error) {
	return v.status, nil
}

func TestHandleEventConfirmedAnnotatesReceiptStatus(t *testing.T) {
	store := chat.NewMemoryStore()
	runner := &scriptedRunner{script: []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "commit confirmed, starting the wait"},
	}}
	orch := New(store, runner, WithReceiptVerifier(&fixedVerifier{status: "included"}))
	session := newSession(t, store)
	seedUserMessage(t, store, session)

	stream, err := orch.HandleEvent(context.Background(), session.ID, event.Event{
		SessionID: session.ID,
		Kind:      event.KindSignatureConfirmed,
		TxHash:    "0xdead",
		ChainID:   "11155111",
	}, RequestContext{})
	if err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	events := drain(t, stream)

	want := "transaction confirmed with hash: 0xdead (on-chain status: included)"
	if events[0].Item.Content != want {
		t.Fatalf("unexpected hidden text: %s", events[0].Item.Content)
	}
}

func seedUserMessage(t *testing.T, store chat.Store, session *chat.Session) {
	t.Helper()
	item := &chat.Item{
		ID:        store.CreateItemID(chat.ItemUserMessage, session),
		SessionID: session.ID,
		Type:      chat.ItemUserMessage,
		Content:   "register coolname.eth",
	}
	if err := store.AppendItem(context.Background(), session.ID, item); err != nil {
		t.Fatalf("seed item failed: %v", err)
	}
}
