package llm

import "context"

// InputItem 是按会话顺序排列的一条推理输入。
type InputItem struct {
	Role    string // user / assistant / developer
	Content string
}

// Request 描述一次推理调用的完整输入。
type Request struct {
	SessionID string
	Items     []InputItem
}

// ClientToolCall 是推理结束时需要客户端执行的指令，例如把一笔
// 未签名交易交给钱包签名。每个推理回合最多产生一个。
type ClientToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StreamEventKind 标识推理输出流中事件的类型。
type StreamEventKind string

const (
	EventDelta      StreamEventKind = "delta"
	EventMessage    StreamEventKind = "message"
	EventToolCall   StreamEventKind = "tool_call"
	EventToolResult StreamEventKind = "tool_result"
	EventDirective  StreamEventKind = "directive"
	EventError      StreamEventKind = "error"
)

// StreamEvent 是推理输出流中的一个单元。Directive 若出现必定是
// 流中最后一个非错误事件。
type StreamEvent struct {
	Kind       StreamEventKind
	Delta      string
	Message    string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult string
	Directive  *ClientToolCall
	Err        error
}

// Runner 定义了驱动推理引擎的统一接口。实现以协作式流的方式
// 产出事件；上下文取消后必须尽快停止并关闭通道。
type Runner interface {
	Run(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// ToolDefinition 向推理引擎声明一个可调用的具名操作。
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters 为 JSON Schema 形式的参数描述。
	Parameters map[string]any
}

// ToolExecutor 执行推理引擎请求的具名操作。返回的文本无论成败都会
// 作为操作结果回灌给推理引擎；directive 不为空时表示本次操作产生了
// 需要客户端执行的指令。
type ToolExecutor interface {
	Definitions() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, args map[string]any) (result string, directive *ClientToolCall, err error)
}
