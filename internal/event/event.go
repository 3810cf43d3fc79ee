package event

import (
	"encoding/json"

	xerrors "ENS-Agent-Chain/internal/errors"
)

// Kind 表示钱包生命周期事件的类型，处理时必须穷举匹配。
type Kind string

const (
	// KindSignatureConfirmed 表示交易已由钱包签名并广播。
	KindSignatureConfirmed Kind = "signature_confirmed"
	// KindWaitElapsed 表示两阶段提交的强制等待期已结束。
	KindWaitElapsed Kind = "wait_elapsed"
	// KindSignatureRejected 表示用户在钱包中拒绝了交易。
	KindSignatureRejected Kind = "signature_rejected"
	// KindIdentityLinked 表示用户的钱包身份已关联，仅更新上下文。
	KindIdentityLinked Kind = "identity_linked"
)

// IsValidKind 检查事件类型是否为支持的枚举值。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindSignatureConfirmed, KindWaitElapsed, KindSignatureRejected, KindIdentityLinked:
		return true
	default:
		return false
	}
}

// Event 描述一个到达的外部生命周期事件。
type Event struct {
	SessionID string `json:"session_id"`
	Kind      Kind   `json:"kind"`
	TxHash    string `json:"tx_hash,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Address   string `json:"address,omitempty"`
	ChainID   string `json:"chain_id,omitempty"`
	// Step 在多步序列中标记本次确认对应的步骤名。
	Step string `json:"step,omitempty"`
}

// ErrUnsupportedEvent 表示事件类型不在支持的集合内。
var ErrUnsupportedEvent = xerrors.New(xerrors.CodeUnsupportedEvent, "unsupported lifecycle event")

// Encode 把事件序列化为队列载荷。
func Encode(ev Event) ([]byte, error) {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化事件失败")
	}
	return encoded, nil
}

// Decode 从队列载荷还原事件。
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeMalformedPayload, err, "解析事件载荷失败")
	}
	if !IsValidKind(ev.Kind) {
		return Event{}, ErrUnsupportedEvent
	}
	return ev, nil
}
