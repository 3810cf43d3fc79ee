package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"ENS-Agent-Chain/internal/chat"
	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/pkg/logger"
)

// defaultHistoryLimit 限制单次推理回合加载的会话条目数。
const defaultHistoryLimit = 100

// RequestContext 携带来自传输层的请求级上下文。
type RequestContext struct {
	WalletAddress string
	ChainID       string
}

// StreamEventKind 标识编排输出流中事件的类型。
type StreamEventKind string

const (
	EventDelta      StreamEventKind = "delta"
	EventToolCall   StreamEventKind = "tool_call"
	EventToolResult StreamEventKind = "tool_result"
	EventHiddenItem StreamEventKind = "hidden_item_created"
	EventItem       StreamEventKind = "item_created"
	EventDirective  StreamEventKind = "directive"
	EventError      StreamEventKind = "error"
)

// StreamEvent 是编排输出流中的一个单元，在推理引擎事件之上附加了
// 会话条目的持久化通知。Directive 若出现必定是最后一个非错误事件。
type StreamEvent struct {
	Kind       StreamEventKind
	Delta      string
	ToolName   string
	ToolResult string
	Item       *chat.Item
	Directive  *llm.ClientToolCall
	Err        error
}

// ReceiptVerifier 查询一笔交易的链上收据状态。
type ReceiptVerifier interface {
	CheckReceipt(ctx context.Context, chainID, txHash string) (string, error)
}

// Orchestrator 驱动会话推理回合：装配历史、调用推理引擎、落盘新增
// 条目，并把钱包生命周期事件翻译成隐藏上下文后续跑。
type Orchestrator struct {
	store        chat.Store
	runner       llm.Runner
	verifier     ReceiptVerifier
	historyLimit int
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithReceiptVerifier 配置可选的链上收据校验器。
func WithReceiptVerifier(verifier ReceiptVerifier) Option {
	return func(o *Orchestrator) {
		o.verifier = verifier
	}
}

// WithHistoryLimit 设置单回合加载的历史条目上限。
func WithHistoryLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// New 构造 Orchestrator。
func New(store chat.Store, runner llm.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		runner:       runner,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Respond 处理一条用户消息：持久化后装配完整历史并运行推理引擎。
// message 为空时只是对现有历史的一次续跑。
func (o *Orchestrator) Respond(ctx context.Context, sessionID, message string, reqCtx RequestContext) (<-chan StreamEvent, error) {
	session, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if message != "" {
		item := &chat.Item{
			ID:        o.store.CreateItemID(chat.ItemUserMessage, session),
			SessionID: session.ID,
			Type:      chat.ItemUserMessage,
			Content:   message,
		}
		if err := o.store.UpsertItem(ctx, session.ID, item); err != nil {
			return nil, err
		}
	}
	return o.run(ctx, session, reqCtx)
}

// HandleEvent 把钱包生命周期事件翻译成一条隐藏上下文条目。除身份
// 关联外的事件都会触发一次推理续跑，让助手基于新状态继续推进。
// 未知事件类型不产生任何变更。
func (o *Orchestrator) HandleEvent(ctx context.Context, sessionID string, ev event.Event, reqCtx RequestContext) (<-chan StreamEvent, error) {
	var text string
	resume := true
	switch ev.Kind {
	case event.KindSignatureConfirmed:
		text = fmt.Sprintf("transaction confirmed with hash: %s", ev.TxHash)
		if status := o.receiptStatus(ctx, ev); status != "" {
			text = fmt.Sprintf("%s (on-chain status: %s)", text, status)
		}
	case event.KindWaitElapsed:
		text = "the mandatory wait period is complete; ready to proceed"
	case event.KindSignatureRejected:
		text = fmt.Sprintf("transaction rejected by user: %s", ev.Reason)
	case event.KindIdentityLinked:
		chainID := ev.ChainID
		if chainID == "" {
			chainID = "unknown"
		}
		text = fmt.Sprintf("user's identity is linked: %s on chain %s", ev.Address, chainID)
		resume = false
	default:
		return nil, event.ErrUnsupportedEvent
	}

	session, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	hidden := &chat.Item{
		ID:        o.store.CreateItemID(chat.ItemHiddenContext, session),
		SessionID: session.ID,
		Type:      chat.ItemHiddenContext,
		Content:   text,
	}
	if err := o.store.AppendItem(ctx, session.ID, hidden); err != nil {
		return nil, err
	}
	logger.Audit().Info("生命周期事件已入账",
		slog.String("session_id", session.ID),
		slog.String("kind", string(ev.Kind)),
	)

	if !resume {
		out := make(chan StreamEvent, 1)
		out <- StreamEvent{Kind: EventHiddenItem, Item: hidden}
		close(out)
		return out, nil
	}

	stream, err := o.run(ctx, session, reqCtx)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent, 1)
	out <- StreamEvent{Kind: EventHiddenItem, Item: hidden}
	go func() {
		defer close(out)
		for evt := range stream {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// receiptStatus 尽力查询确认事件对应交易的链上状态，失败时静默跳过。
func (o *Orchestrator) receiptStatus(ctx context.Context, ev event.Event) string {
	if o.verifier == nil || ev.ChainID == "" || ev.TxHash == "" {
		return ""
	}
	status, err := o.verifier.CheckReceipt(ctx, ev.ChainID, ev.TxHash)
	if err != nil {
		logger.L().Debug("查询交易收据失败",
			slog.String("tx_hash", ev.TxHash),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return status
}

// run 执行一个推理回合：加载历史、调用推理引擎、转发事件并持久化
// 最终的助手消息。签名指令只转发，不作为会话状态落盘。
func (o *Orchestrator) run(ctx context.Context, session *chat.Session, reqCtx RequestContext) (<-chan StreamEvent, error) {
	items, err := o.loadInput(ctx, session.ID, reqCtx)
	if err != nil {
		return nil, err
	}
	stream, err := o.runner.Run(ctx, llm.Request{SessionID: session.ID, Items: items})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)
		for evt := range stream {
			switch evt.Kind {
			case llm.EventDelta:
				o.emit(ctx, out, StreamEvent{Kind: EventDelta, Delta: evt.Delta})
			case llm.EventToolCall:
				o.emit(ctx, out, StreamEvent{Kind: EventToolCall, ToolName: evt.ToolName})
			case llm.EventToolResult:
				o.emit(ctx, out, StreamEvent{Kind: EventToolResult, ToolName: evt.ToolName, ToolResult: evt.ToolResult})
			case llm.EventMessage:
				item := &chat.Item{
					ID:        o.store.CreateItemID(chat.ItemAssistantMessage, session),
					SessionID: session.ID,
					Type:      chat.ItemAssistantMessage,
					Content:   evt.Message,
				}
				if err := o.store.UpsertItem(ctx, session.ID, item); err != nil {
					o.emit(ctx, out, StreamEvent{Kind: EventError, Err: err})
					return
				}
				o.emit(ctx, out, StreamEvent{Kind: EventItem, Item: item})
			case llm.EventDirective:
				o.emit(ctx, out, StreamEvent{Kind: EventDirective, Directive: evt.Directive})
			case llm.EventError:
				o.emit(ctx, out, StreamEvent{Kind: EventError, Err: evt.Err})
			}
		}
	}()
	return out, nil
}

// emit 在上下文取消后放弃发送，绝不向已断开的流缓冲事件。
func (o *Orchestrator) emit(ctx context.Context, out chan<- StreamEvent, evt StreamEvent) {
	select {
	case out <- evt:
	case <-ctx.Done():
	}
}

// loadInput 按会话顺序装配推理输入。钱包地址可用时在最前面插入一条
// 不落盘的 developer 指令。
func (o *Orchestrator) loadInput(ctx context.Context, sessionID string, reqCtx RequestContext) ([]llm.InputItem, error) {
	page, err := o.store.LoadItems(ctx, sessionID, "", o.historyLimit, chat.OrderAsc)
	if err != nil {
		return nil, err
	}

	var input []llm.InputItem
	if reqCtx.WalletAddress != "" {
		chainID := reqCtx.ChainID
		if chainID == "" {
			chainID = "unknown"
		}
		input = append(input, llm.InputItem{
			Role: "developer",
			Content: fmt.Sprintf(
				"The user's wallet is connected: %s on chain ID %s. Use this address as the 'owner' or 'from_addr' parameter when the user doesn't specify one.",
				reqCtx.WalletAddress, chainID),
		})
	}
	for _, item := range page.Data {
		switch item.Type {
		case chat.ItemUserMessage:
			input = append(input, llm.InputItem{Role: "user", Content: item.Content})
		case chat.ItemAssistantMessage:
			input = append(input, llm.InputItem{Role: "assistant", Content: item.Content})
		case chat.ItemHiddenContext:
			input = append(input, llm.InputItem{Role: "developer", Content: item.Content})
		default:
			// widget 与指令条目只服务于界面，不参与推理输入。
		}
	}
	if len(input) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话没有可用的推理输入")
	}
	return input, nil
}
