package ensagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Aggregated chat turns can take a while, so it is longer
// than a typical REST timeout.
const DefaultHTTPTimeout = 120 * time.Second

// Client wraps the HTTP interactions with the ENS agent daemon REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// WalletContext identifies the connected wallet for a chat turn. Zero value
// means no wallet headers are sent.
type WalletContext struct {
	Address string
	ChainID string
}

// Event mirrors the wallet lifecycle event payload accepted by the daemon.
type Event struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	TxHash    string `json:"tx_hash,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Address   string `json:"address,omitempty"`
	ChainID   string `json:"chain_id,omitempty"`
	Step      string `json:"step,omitempty"`
}

// Item is a single conversation entry. CreatedAt is a unix timestamp in
// seconds, matching the daemon's storage representation.
type Item struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Widget    json.RawMessage `json:"widget,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Directive is the client tool call asking the wallet to sign a transaction.
type Directive struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResult is the aggregated response of one chat turn. Error is set when
// the turn failed mid-stream after producing a reply or directive.
type ChatResult struct {
	SessionID string     `json:"session_id"`
	Reply     string     `json:"reply"`
	Items     []Item     `json:"items"`
	Directive *Directive `json:"directive,omitempty"`
	Error     *ChatError `json:"error,omitempty"`
}

// ChatError describes a partial failure of an otherwise successful turn.
type ChatError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session describes a stored conversation.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
}

// SessionPage is one page of sessions.
type SessionPage struct {
	Data    []Session `json:"data"`
	HasMore bool      `json:"has_more"`
	After   string    `json:"after"`
}

// ItemPage is one page of conversation items.
type ItemPage struct {
	Data    []Item `json:"data"`
	HasMore bool   `json:"has_more"`
	After   string `json:"after"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ensagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ensagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ENS agent daemon API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SendMessage runs one aggregated chat turn. An empty sessionID starts a new
// conversation; the returned result carries the session id either way.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string, wallet WalletContext) (ChatResult, error) {
	payload := map[string]any{"message": message}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	var result ChatResult
	if err := c.post(ctx, "/api/v1/chat", payload, wallet, &result); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// SendEvent delivers a wallet lifecycle event synchronously through the chat
// endpoint and returns the resumed turn's aggregate.
func (c *Client) SendEvent(ctx context.Context, ev Event, wallet WalletContext) (ChatResult, error) {
	payload := map[string]any{"session_id": ev.SessionID, "event": ev}
	var result ChatResult
	if err := c.post(ctx, "/api/v1/chat", payload, wallet, &result); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// PublishEvent enqueues a wallet lifecycle event for asynchronous processing.
func (c *Client) PublishEvent(ctx context.Context, ev Event) error {
	return c.post(ctx, "/api/v1/events", ev, WalletContext{}, nil)
}

// ListSessions fetches one page of stored conversations.
func (c *Client) ListSessions(ctx context.Context, limit int, after string) (SessionPage, error) {
	endpoint := fmt.Sprintf("/api/v1/sessions?limit=%d&after=%s", limit, url.QueryEscape(after))
	var page SessionPage
	if err := c.get(ctx, endpoint, &page); err != nil {
		return SessionPage{}, err
	}
	return page, nil
}

// GetSession fetches a single conversation by identifier.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ListItems fetches one page of a conversation's items in append order.
func (c *Client) ListItems(ctx context.Context, sessionID string, limit int, after string) (ItemPage, error) {
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/items?limit=%d&after=%s",
		url.PathEscape(sessionID), limit, url.QueryEscape(after))
	var page ItemPage
	if err := c.get(ctx, endpoint, &page); err != nil {
		return ItemPage{}, err
	}
	return page, nil
}

// DeleteSession removes a conversation and all of its items.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, wallet WalletContext, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if wallet.Address != "" {
		req.Header.Set("X-Wallet-Address", wallet.Address)
	}
	if wallet.ChainID != "" {
		req.Header.Set("X-Chain-Id", wallet.ChainID)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
