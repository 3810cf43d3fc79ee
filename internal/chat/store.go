package chat

import "context"

// Store 抽象会话与条目的持久化接口。实现必须保证：
// 追加顺序即升序读取顺序；ID 不复用；UpsertItem 按 ID 原位替换且幂等。
type Store interface {
	// CreateSessionID 生成一个全新且不会冲突的会话 ID。
	CreateSessionID() string
	// CreateItemID 为指定类型的条目生成会话内唯一的 ID。
	CreateItemID(itemType ItemType, session *Session) string

	LoadSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	ListSessions(ctx context.Context, limit int, after string, order Order) (SessionPage, error)
	DeleteSession(ctx context.Context, id string) error

	LoadItems(ctx context.Context, sessionID, after string, limit int, order Order) (ItemPage, error)
	// AppendItem 无条件追加到末尾，即使 ID 已存在也不去重。
	// 用于隐藏条目等允许重复的合成内容。
	AppendItem(ctx context.Context, sessionID string, item *Item) error
	// UpsertItem 按 ID 原位替换，不存在时追加。用于可能在流式过程中
	// 被多次改写的用户/助手条目。
	UpsertItem(ctx context.Context, sessionID string, item *Item) error
	LoadItem(ctx context.Context, sessionID, itemID string) (*Item, error)
	DeleteItem(ctx context.Context, sessionID, itemID string) error

	Close() error
}
