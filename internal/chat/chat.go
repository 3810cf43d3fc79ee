package chat

import (
	"encoding/json"

	xerrors "ENS-Agent-Chain/internal/errors"
)

// ItemType 表示会话条目的类型，处理时必须穷举匹配。
type ItemType string

const (
	ItemUserMessage      ItemType = "user_message"
	ItemAssistantMessage ItemType = "assistant_message"
	ItemHiddenContext    ItemType = "hidden_context"
	ItemWidget           ItemType = "widget"
	ItemClientToolCall   ItemType = "client_tool_call"
)

// IsValidItemType 检查条目类型是否为支持的枚举值。
func IsValidItemType(t ItemType) bool {
	switch t {
	case ItemUserMessage, ItemAssistantMessage, ItemHiddenContext, ItemWidget, ItemClientToolCall:
		return true
	default:
		return false
	}
}

// Session 描述一个会话的元数据，条目历史单独保存。
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ToolCallPayload 保存需要客户端执行的工具调用指令。
type ToolCallPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Item 是会话历史中的一条记录。ID 在会话内唯一且不会复用；
// 顺序即会话的因果顺序。
type Item struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Type      ItemType         `json:"type"`
	Content   string           `json:"content,omitempty"`
	Widget    json.RawMessage  `json:"widget,omitempty"`
	ToolCall  *ToolCallPayload `json:"tool_call,omitempty"`
	CreatedAt int64            `json:"created_at"`
}

// Order 控制分页结果的排列方向。desc 仅反转返回的页，不改变选取范围。
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// SessionPage 是会话列表的一页。After 为空且 HasMore 为真时，
// 调用方需自行决定如何继续翻页。
type SessionPage struct {
	Data    []*Session `json:"data"`
	HasMore bool       `json:"has_more"`
	After   string     `json:"after,omitempty"`
}

// ItemPage 是会话条目的一页。
type ItemPage struct {
	Data    []*Item `json:"data"`
	HasMore bool    `json:"has_more"`
	After   string  `json:"after,omitempty"`
}

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrItemNotFound 表示指定的条目不存在。
	ErrItemNotFound = xerrors.New(CodeItemNotFound, "item not found")
)

const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeItemNotFound    xerrors.Code = "ITEM_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeItemNotFound, xerrors.Attributes{
		Message:   "item not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

func cloneItem(item *Item) *Item {
	if item == nil {
		return nil
	}
	clone := *item
	if item.Widget != nil {
		clone.Widget = append(json.RawMessage(nil), item.Widget...)
	}
	if item.ToolCall != nil {
		callCopy := ToolCallPayload{Name: item.ToolCall.Name}
		if item.ToolCall.Arguments != nil {
			callCopy.Arguments = make(map[string]any, len(item.ToolCall.Arguments))
			for key, value := range item.ToolCall.Arguments {
				callCopy.Arguments[key] = value
			}
		}
		clone.ToolCall = &callCopy
	}
	return &clone
}

func cloneSession(session *Session) *Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func reverseItems(items []*Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func reverseSessions(sessions []*Session) {
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
}
