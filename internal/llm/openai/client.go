package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ENS-Agent-Chain/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4.1"
	defaultTimeout   = 60 * time.Second

	// maxToolRounds 限制单次推理内工具调用的往返次数，防止模型循环调用。
	maxToolRounds = 8
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 完成推理，并在服务端执行工具往返。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	tools      llm.ToolExecutor
}

// NewClient 根据配置创建 OpenAI 客户端。tools 可以为空，此时模型
// 只能生成纯文本回复。
func NewClient(cfg Config, tools llm.ToolExecutor) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tools: tools,
	}, nil
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Run 实现 llm.Runner。以事件流的方式产出推理结果；当工具执行
// 返回客户端指令时，该指令作为流的最后一个事件发出。
func (c *Client) Run(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("推理输入不能为空")
	}

	messages := make([]chatMessage, 0, len(req.Items)+1)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, item := range req.Items {
		role := item.Role
		// Chat Completions 没有 developer 角色，折算为 system。
		if role == "developer" {
			role = "system"
		}
		messages = append(messages, chatMessage{Role: role, Content: item.Content})
	}

	events := make(chan llm.StreamEvent, 16)
	go c.runLoop(ctx, messages, events)
	return events, nil
}

func (c *Client) runLoop(ctx context.Context, messages []chatMessage, events chan<- llm.StreamEvent) {
	defer close(events)

	var directive *llm.ClientToolCall
	finished := false

	for round := 0; round < maxToolRounds; round++ {
		reply, err := c.complete(ctx, messages)
		if err != nil {
			emit(ctx, events, llm.StreamEvent{Kind: llm.EventError, Err: err})
			return
		}

		if len(reply.ToolCalls) == 0 {
			content := strings.TrimSpace(reply.Content)
			if !emit(ctx, events, llm.StreamEvent{Kind: llm.EventDelta, Delta: content}) {
				return
			}
			if !emit(ctx, events, llm.StreamEvent{Kind: llm.EventMessage, Message: content}) {
				return
			}
			finished = true
			break
		}

		messages = append(messages, *reply)
		for _, call := range reply.ToolCalls {
			args := map[string]any{}
			if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					args = map[string]any{}
				}
			}
			if !emit(ctx, events, llm.StreamEvent{Kind: llm.EventToolCall, ToolName: call.Function.Name, ToolArgs: args}) {
				return
			}

			result, toolDirective, err := c.executeTool(ctx, call.Function.Name, args)
			if err != nil {
				result = fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
			}
			if toolDirective != nil {
				// 每回合只保留最后一个指令，与客户端的单指令槽位对应。
				directive = toolDirective
			}
			if !emit(ctx, events, llm.StreamEvent{Kind: llm.EventToolResult, ToolName: call.Function.Name, ToolResult: result}) {
				return
			}
			messages = append(messages, chatMessage{Role: "tool", ToolCallID: call.ID, Content: result})
		}
	}

	if !finished {
		// 轮次耗尽仍未拿到纯文本回复，显式告知调用方本回合未完成。
		if !emit(ctx, events, llm.StreamEvent{
			Kind: llm.EventError,
			Err:  fmt.Errorf("工具调用超过 %d 轮仍未产生最终回复", maxToolRounds),
		}) {
			return
		}
	}
	if directive != nil {
		emit(ctx, events, llm.StreamEvent{Kind: llm.EventDirective, Directive: directive})
	}
}

func (c *Client) executeTool(ctx context.Context, name string, args map[string]any) (string, *llm.ClientToolCall, error) {
	if c.tools == nil {
		return "", nil, fmt.Errorf("未注册任何工具，无法执行 %s", name)
	}
	return c.tools.ExecuteTool(ctx, name, args)
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (*chatMessage, error) {
	payload, err := c.buildPayload(messages)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}
	message := decoded.Choices[0].Message
	return &message, nil
}

func (c *Client) buildPayload(messages []chatMessage) ([]byte, error) {
	type functionSpec struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	}
	type toolSpec struct {
		Type     string       `json:"type"`
		Function functionSpec `json:"function"`
	}

	body := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	if c.tools != nil {
		defs := c.tools.Definitions()
		if len(defs) > 0 {
			tools := make([]toolSpec, 0, len(defs))
			for _, def := range defs {
				tools = append(tools, toolSpec{
					Type: "function",
					Function: functionSpec{
						Name:        def.Name,
						Description: def.Description,
						Parameters:  def.Parameters,
					},
				})
			}
			body["tools"] = tools
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

// emit 在上下文仍有效时投递事件；目的流关闭后直接丢弃。
func emit(ctx context.Context, events chan<- llm.StreamEvent, event llm.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

// ensure interface compliance at compile time
var _ llm.Runner = (*Client)(nil)
