package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ENS-Agent-Chain/internal/chat"
	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/internal/orchestrator"
)

// replayRunner 回放固定脚本，不关心输入内容。
type replayRunner struct {
	script []llm.StreamEvent
}

func (r *replayRunner) Run(context.Context, llm.Request) (<-chan llm.StreamEvent, error) {
	out := make(chan llm.StreamEvent, len(r.script))
	for _, evt := range r.script {
		out <- evt
	}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T, script []llm.StreamEvent) (*httptest.Server, chat.Store, *event.MemoryQueue) {
	t.Helper()
	store := chat.NewMemoryStore()
	orch := orchestrator.New(store, &replayRunner{script: script})
	queue := event.NewMemoryQueue(8)
	t.Cleanup(func() { queue.Close() })
	server := NewServer(":0", store, orch, queue)
	ts := httptest.NewServer(server.routes())
	t.Cleanup(ts.Close)
	return ts, store, queue
}

func TestChatAggregatedCreatesSession(t *testing.T) {
	ts, store, _ := newTestServer(t, []llm.StreamEvent{
		{Kind: llm.EventDelta, Delta: "checking"},
		{Kind: llm.EventMessage, Message: "coolname.eth is available"},
	})

	body := bytes.NewBufferString(`{"message": "is coolname.eth free?"}`)
	resp, err := http.Post(ts.URL+"/api/v1/chat", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var decoded struct {
		SessionID string       `json:"session_id"`
		Reply     string       `json:"reply"`
		Items     []*chat.Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.SessionID == "" {
		t.Fatal("expected a new session id")
	}
	if decoded.Reply != "coolname.eth is available" {
		t.Fatalf("unexpected reply: %s", decoded.Reply)
	}

	if _, err := store.LoadSession(context.Background(), decoded.SessionID); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	page, err := store.LoadItems(context.Background(), decoded.SessionID, "", 10, chat.OrderAsc)
	if err != nil {
		t.Fatalf("load items failed: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("expected user + assistant items, got %d", len(page.Data))
	}
}

func TestChatAggregateSurfacesMidStreamError(t *testing.T) {
	ts, _, _ := newTestServer(t, []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "partial answer"},
		{Kind: llm.EventError, Err: xerrors.New(xerrors.CodeUpstreamUnavailable, "模型中途断流")},
	})

	resp, err := http.Post(ts.URL+"/api/v1/chat", "application/json",
		bytes.NewBufferString(`{"message": "hi"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partial turns still return the aggregate, got %d", resp.StatusCode)
	}

	var decoded struct {
		Reply string `json:"reply"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Reply != "partial answer" {
		t.Fatalf("unexpected reply: %s", decoded.Reply)
	}
	if decoded.Error == nil || decoded.Error.Code != string(xerrors.CodeUpstreamUnavailable) {
		t.Fatalf("mid-stream error must surface in the aggregate, got %+v", decoded.Error)
	}
}

func TestChatStreamsSSE(t *testing.T) {
	ts, _, _ := newTestServer(t, []llm.StreamEvent{
		{Kind: llm.EventDelta, Delta: "hello"},
		{Kind: llm.EventMessage, Message: "hello there"},
	})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/chat",
		bytes.NewBufferString(`{"message": "hi"}`))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read stream failed: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"event: delta", "event: item_created", "event: done"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("stream missing %q: %s", want, raw)
		}
	}
}

func TestChatEventEntryPoint(t *testing.T) {
	ts, store, _ := newTestServer(t, []llm.StreamEvent{
		{Kind: llm.EventMessage, Message: "understood"},
	})

	session := &chat.Session{ID: store.CreateSessionID(), Title: "test"}
	if err := store.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("save session failed: %v", err)
	}
	seed := &chat.Item{
		ID:        store.CreateItemID(chat.ItemUserMessage, session),
		SessionID: session.ID,
		Type:      chat.ItemUserMessage,
		Content:   "register coolname",
	}
	if err := store.AppendItem(context.Background(), session.ID, seed); err != nil {
		t.Fatalf("seed item failed: %v", err)
	}

	body := bytes.NewBufferString(`{"session_id": "` + session.ID + `", "event": {"kind": "signature_rejected", "reason": "user cancelled"}}`)
	resp, err := http.Post(ts.URL+"/api/v1/chat", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var decoded struct {
		Items []*chat.Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	var hidden bool
	for _, item := range decoded.Items {
		if item.Type == chat.ItemHiddenContext &&
			item.Content == "transaction rejected by user: user cancelled" {
			hidden = true
		}
	}
	if !hidden {
		t.Fatalf("hidden item missing from aggregate: %+v", decoded.Items)
	}
}

func TestPublishEventValidation(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/events", "application/json",
		bytes.NewBufferString(`{"session_id": "s1", "kind": "price_alert"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kinds must be rejected, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/events", "application/json",
		bytes.NewBufferString(`{"session_id": "s1", "kind": "wait_elapsed"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid events must be accepted, got %d", resp.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts, store, _ := newTestServer(t, nil)

	session := &chat.Session{ID: store.CreateSessionID(), Title: "lifecycle"}
	if err := store.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("save session failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/sessions/" + session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/sessions/"+session.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/sessions/" + session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session must be gone, got %d", resp.StatusCode)
	}
}
