package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ENS-Agent-Chain/internal/errors"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It matches the execution service's slowest lookup path.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the ENS execution service, which
// performs domain lookups and constructs unsigned transaction payloads.
// Responses are returned verbatim as text: the service reports its own
// failures inside the body ({"ok": false, ...}), and that body flows back to
// the reasoning engine unmodified. Only transport failures become errors.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// NewClient instantiates a client for the execution service. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(rawURL), "/"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无效的执行服务地址")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "执行服务地址必须包含 scheme 和 host")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, apiKey: apiKey, httpClient: httpClient}, nil
}

// Get performs a parameterized lookup. Empty parameter values are skipped.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (string, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path

	query := url.Values{}
	for key, value := range params {
		if value == "" {
			continue
		}
		query.Set(key, value)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "构建执行服务请求失败")
	}
	return c.do(req)
}

// Post sends a JSON operation request with bearer authentication.
func (c *Client) Post(ctx context.Context, path string, body map[string]any) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化执行服务请求失败")
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(encoded))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "构建执行服务请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err,
			fmt.Sprintf("请求执行服务 %s 失败", req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "读取执行服务响应失败")
	}
	// Non-2xx bodies carry the service's own {ok:false, error:{...}} shape
	// and are returned as-is for the reasoning engine to explain.
	return string(body), nil
}
