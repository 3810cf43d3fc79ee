package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ENS-Agent-Chain/internal/chat"
	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/internal/orchestrator"
)

// Server 负责暴露 REST 接口，供前端驱动会话与投递钱包事件。
type Server struct {
	addr         string
	store        chat.Store
	orchestrator *orchestrator.Orchestrator
	producer     event.Producer
}

// NewServer 构造 API 服务实例。producer 可以为空，此时事件入口返回
// 服务不可用。
func NewServer(addr string, store chat.Store, orch *orchestrator.Orchestrator, producer event.Producer) *Server {
	return &Server{addr: addr, store: store, orchestrator: orch, producer: producer}
}

// routes 注册全部 HTTP 入口。
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("POST /api/v1/events", s.handlePublishEvent)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/items", s.handleListItems)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withCORS(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// chatRequest 是会话入口的请求体。message 与 event 二选一。
type chatRequest struct {
	SessionID string       `json:"session_id"`
	Message   string       `json:"message"`
	Event     *event.Event `json:"event"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "编排器未初始化")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeMalformedPayload, "请求体解析失败")
		return
	}
	if req.Message == "" && req.Event == nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "message 与 event 至少提供一个")
		return
	}

	ctx := r.Context()
	reqCtx := orchestrator.RequestContext{
		WalletAddress: strings.TrimSpace(r.Header.Get("X-Wallet-Address")),
		ChainID:       strings.TrimSpace(r.Header.Get("X-Chain-Id")),
	}

	session, err := s.ensureSession(ctx, req.SessionID, req.Message)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var stream <-chan orchestrator.StreamEvent
	if req.Event != nil {
		req.Event.SessionID = session.ID
		stream, err = s.orchestrator.HandleEvent(ctx, session.ID, *req.Event, reqCtx)
	} else {
		stream, err = s.orchestrator.Respond(ctx, session.ID, req.Message, reqCtx)
	}
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnsupportedEvent {
			writeError(w, http.StatusBadRequest, xerrors.CodeUnsupportedEvent, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}

	if wantsSSE(r) {
		s.streamSSE(ctx, w, session.ID, stream)
		return
	}
	s.aggregate(w, session.ID, stream)
}

// ensureSession 加载既有会话，必要时创建新会话。
func (s *Server) ensureSession(ctx context.Context, sessionID, message string) (*chat.Session, error) {
	if sessionID != "" {
		return s.store.LoadSession(ctx, sessionID)
	}
	session := &chat.Session{
		ID:    s.store.CreateSessionID(),
		Title: sessionTitle(message),
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// sessionTitle 用首条消息的前缀作为会话标题。
func sessionTitle(message string) string {
	title := strings.TrimSpace(message)
	if title == "" {
		return "New conversation"
	}
	const maxTitle = 48
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}

// streamSSE 以 Server-Sent Events 形式转发编排输出流。
func (s *Server) streamSSE(ctx context.Context, w http.ResponseWriter, sessionID string, stream <-chan orchestrator.StreamEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, xerrors.CodeUnknown, "响应不支持流式输出")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	writeEvent := func(name string, payload any) {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, encoded)
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-stream:
			if !open {
				writeEvent("done", map[string]string{"session_id": sessionID})
				return
			}
			switch evt.Kind {
			case orchestrator.EventDelta:
				writeEvent("delta", map[string]string{"delta": evt.Delta})
			case orchestrator.EventToolCall:
				writeEvent("tool_call", map[string]string{"name": evt.ToolName})
			case orchestrator.EventToolResult:
				writeEvent("tool_result", map[string]string{"name": evt.ToolName, "result": evt.ToolResult})
			case orchestrator.EventHiddenItem:
				writeEvent("hidden_item_created", evt.Item)
			case orchestrator.EventItem:
				writeEvent("item_created", evt.Item)
			case orchestrator.EventDirective:
				writeEvent("directive", evt.Directive)
			case orchestrator.EventError:
				writeEvent("error", map[string]string{"message": evt.Err.Error()})
			}
		}
	}
}

// chatResponse 是非流式模式下的聚合结果。error 字段携带回合中途
// 的失败：即便产出了回复或指令，客户端也能看到回合不完整。
type chatResponse struct {
	SessionID string              `json:"session_id"`
	Reply     string              `json:"reply"`
	Items     []*chat.Item        `json:"items"`
	Directive *llm.ClientToolCall `json:"directive,omitempty"`
	Error     *chatError          `json:"error,omitempty"`
}

type chatError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// aggregate 排空编排输出流后返回单个 JSON 文档。
func (s *Server) aggregate(w http.ResponseWriter, sessionID string, stream <-chan orchestrator.StreamEvent) {
	resp := chatResponse{SessionID: sessionID}
	var streamErr error
	for evt := range stream {
		switch evt.Kind {
		case orchestrator.EventHiddenItem, orchestrator.EventItem:
			resp.Items = append(resp.Items, evt.Item)
			if evt.Item.Type == chat.ItemAssistantMessage {
				resp.Reply = evt.Item.Content
			}
		case orchestrator.EventDirective:
			resp.Directive = evt.Directive
		case orchestrator.EventError:
			streamErr = evt.Err
		}
	}
	if streamErr != nil {
		if resp.Reply == "" && resp.Directive == nil {
			writeError(w, http.StatusBadGateway, xerrors.CodeOf(streamErr), streamErr.Error())
			return
		}
		resp.Error = &chatError{
			Code:    string(xerrors.CodeOf(streamErr)),
			Message: streamErr.Error(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "事件队列未配置")
		return
	}
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeMalformedPayload, "请求体解析失败")
		return
	}
	if ev.SessionID == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "session_id 不能为空")
		return
	}
	if !event.IsValidKind(ev.Kind) {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnsupportedEvent,
			fmt.Sprintf("不支持的事件类型: %s", ev.Kind))
		return
	}
	if err := s.producer.Publish(r.Context(), ev); err != nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeQueueFailure, "事件投递失败")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	after := r.URL.Query().Get("after")
	order := parseOrder(r)

	page, err := s.store.ListSessions(r.Context(), limit, after, order)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	after := r.URL.Query().Get("after")
	order := parseOrder(r)

	page, err := s.store.LoadItems(r.Context(), r.PathValue("id"), after, limit, order)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOrder(r *http.Request) chat.Order {
	if r.URL.Query().Get("order") == "desc" {
		return chat.OrderDesc
	}
	return chat.OrderAsc
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}

// writeStoreError 把存储层错误映射为 HTTP 状态码。
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrItemNotFound):
		writeError(w, http.StatusNotFound, xerrors.CodeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), err.Error())
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// withCORS 放开跨域限制，前端与守护进程通常不同源部署。
func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Wallet-Address, X-Chain-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
