package orchestrator

import (
	"context"
	"log/slog"

	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/pkg/logger"
)

// Processor 从事件队列消费钱包生命周期事件并交给编排器处理。单
// worker 消费保证同一进程内编排回合的串行化。
type Processor struct {
	orchestrator *Orchestrator
	consumer     event.Consumer
	workerCount  int
	logger       *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(orch *Orchestrator, consumer event.Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		orchestrator: orch,
		consumer:     consumer,
		workerCount:  1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动事件消费循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, ev event.Event) error {
	if p.orchestrator == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	stream, err := p.orchestrator.HandleEvent(ctx, ev.SessionID, ev, RequestContext{
		WalletAddress: ev.Address,
		ChainID:       ev.ChainID,
	})
	if err != nil {
		switch xerrors.CodeOf(err) {
		case xerrors.CodeUnsupportedEvent:
			// 未知类型直接丢弃，重投不会改变结果。
			p.logDebug("忽略不支持的事件",
				slog.String("session_id", ev.SessionID),
				slog.String("kind", string(ev.Kind)))
			return nil
		default:
			logger.L().Error("处理生命周期事件失败",
				slog.Any("error", err),
				slog.String("session_id", ev.SessionID),
				slog.String("kind", string(ev.Kind)),
			)
			if !xerrors.RetryableError(err) {
				// 不可重试的错误（如会话已被删除）重投只会重复失败。
				return nil
			}
			return err
		}
	}

	// 后台消费没有下游客户端，排空流以驱动续跑完成。
	for evt := range stream {
		switch evt.Kind {
		case EventDirective:
			logger.Audit().Info("事件续跑产生签名指令",
				slog.String("session_id", ev.SessionID),
				slog.String("tool", evt.Directive.Name),
			)
		case EventError:
			logger.L().Warn("事件续跑出错",
				slog.String("session_id", ev.SessionID),
				slog.Any("error", evt.Err),
			)
		}
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}
