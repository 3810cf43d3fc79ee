package bridge

import (
	"encoding/json"
	"log/slog"

	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/pkg/logger"

	gethcommon "github.com/ethereum/go-ethereum/common"
)

// ToolName 是客户端签名指令的约定名称。
const ToolName = "sign"

// Step 是多步操作序列中的一步：一个命名的未签名交易。
type Step struct {
	Step string         `json:"step"`
	Tx   map[string]any `json:"tx"`
}

// Directive 是由一次操作响应派生出的签名指令。它只在本回合的
// 输出流末尾出现一次，不作为会话状态持久化。
type Directive struct {
	// Operation 是面向用户的操作名称。
	Operation string
	// OperationType 是调用方给出的操作类别，如 commit、register。
	OperationType string
	// Tx 是需要呈现给钱包签名的未签名交易。
	Tx map[string]any
	// WaitSeconds 大于零时表示签名确认后需要等待的秒数（两阶段模式）。
	WaitSeconds int64
	// SessionToken 是两阶段模式中第二步所需的续传令牌。
	SessionToken string
	// Steps 在多步序列中携带完整的剩余步骤列表，供客户端渲染进度。
	Steps []Step
}

// ToolCall 把指令转换为客户端工具调用。
func (d *Directive) ToolCall() *llm.ClientToolCall {
	args := map[string]any{
		"tx":             d.Tx,
		"operation":      d.Operation,
		"operation_type": d.OperationType,
	}
	if d.WaitSeconds > 0 {
		args["wait_seconds"] = d.WaitSeconds
	}
	if d.SessionToken != "" {
		args["session_id"] = d.SessionToken
	}
	if len(d.Steps) > 0 {
		args["steps"] = d.Steps
	}
	return &llm.ClientToolCall{Name: ToolName, Arguments: args}
}

// Build 判断一次操作响应是否需要产生签名指令。响应不可解析或未
// 标记成功时返回 nil —— 原始文本仍会作为操作结果回灌给推理引擎，
// 只是跳过指令发射。桥本身无状态：多步序列的进度完全由会话历史
// （哪一步的确认已被记录）承载。
func Build(operation, operationType, responseText string) *Directive {
	var decoded struct {
		OK   bool `json:"ok"`
		Data struct {
			Name         string          `json:"name"`
			Tx           map[string]any  `json:"tx"`
			WaitSeconds  json.Number     `json:"wait_seconds"`
			SessionID    string          `json:"session_id"`
			Transactions json.RawMessage `json:"transactions"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(responseText), &decoded); err != nil {
		return nil
	}
	if !decoded.OK {
		return nil
	}

	// 单笔交易。
	if decoded.Data.Tx != nil {
		name := decoded.Data.Name
		if name == "" {
			name = operation
		}
		directive := &Directive{
			Operation:     name,
			OperationType: operationType,
			Tx:            decoded.Data.Tx,
			SessionToken:  decoded.Data.SessionID,
		}
		if decoded.Data.WaitSeconds != "" {
			if seconds, err := decoded.Data.WaitSeconds.Int64(); err == nil {
				directive.WaitSeconds = seconds
			}
		}
		noteMissingTarget(directive.Operation, directive.Tx)
		return directive
	}

	// 多步序列：只为第一步生成指令，完整列表原样附带。
	if len(decoded.Data.Transactions) > 0 {
		var steps []Step
		if err := json.Unmarshal(decoded.Data.Transactions, &steps); err != nil {
			return nil
		}
		if len(steps) == 0 {
			return nil
		}
		first := steps[0]
		name := first.Step
		if name == "" {
			name = operation
		}
		tx := first.Tx
		if tx == nil {
			tx = map[string]any{}
		}
		directive := &Directive{
			Operation:     name,
			OperationType: operationType,
			Tx:            tx,
			Steps:         steps,
		}
		noteMissingTarget(directive.Operation, directive.Tx)
		return directive
	}

	return nil
}

// noteMissingTarget 只记录交易缺少目标地址的情况，不做链级校验，
// 交易对象按原样透传。
func noteMissingTarget(operation string, tx map[string]any) {
	target, _ := tx["to"].(string)
	if target == "" || !gethcommon.IsHexAddress(target) {
		logger.L().Debug("交易缺少有效的目标地址",
			slog.String("operation", operation),
			slog.String("to", target),
		)
	}
}
