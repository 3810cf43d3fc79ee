package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 以内存方式保存会话状态，适合单机部署与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// order 记录会话创建顺序，分页时按此遍历。
	order []string
	items map[string][]*Item
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		items:    make(map[string][]*Item),
	}
}

// CreateSessionID 实现 Store 接口。
func (m *MemoryStore) CreateSessionID() string {
	return uuid.NewString()
}

// CreateItemID 实现 Store 接口。条目类型不参与取值，ID 保持不透明。
func (m *MemoryStore) CreateItemID(_ ItemType, _ *Session) string {
	return uuid.NewString()
}

// LoadSession 返回会话元数据。
func (m *MemoryStore) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// SaveSession 创建或覆盖会话元数据。
func (m *MemoryStore) SaveSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	if _, ok := m.sessions[session.ID]; !ok {
		m.order = append(m.order, session.ID)
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// ListSessions 按创建顺序返回会话分页。
func (m *MemoryStore) ListSessions(_ context.Context, limit int, _ string, order Order) (SessionPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if session, ok := m.sessions[id]; ok {
			sessions = append(sessions, cloneSession(session))
		}
	}

	hasMore := len(sessions) > limit
	if hasMore {
		sessions = sessions[:limit]
	}
	if order == OrderDesc {
		reverseSessions(sessions)
	}
	return SessionPage{Data: sessions, HasMore: hasMore}, nil
}

// DeleteSession 删除会话及其全部条目。
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.items, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// LoadItems 按追加顺序返回条目分页。desc 仅反转返回的页。
func (m *MemoryStore) LoadItems(_ context.Context, sessionID, _ string, limit int, order Order) (ItemPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	stored := m.items[sessionID]
	items := make([]*Item, 0, len(stored))
	for _, item := range stored {
		items = append(items, cloneItem(item))
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if order == OrderDesc {
		reverseItems(items)
	}
	return ItemPage{Data: items, HasMore: hasMore}, nil
}

// AppendItem 无条件追加条目到会话末尾。
func (m *MemoryStore) AppendItem(_ context.Context, sessionID string, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	m.items[sessionID] = append(m.items[sessionID], cloneItem(item))
	return nil
}

// UpsertItem 按 ID 原位替换，不存在时追加。
func (m *MemoryStore) UpsertItem(_ context.Context, sessionID string, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	items := m.items[sessionID]
	for i, existing := range items {
		if existing.ID == item.ID {
			items[i] = cloneItem(item)
			return nil
		}
	}
	m.items[sessionID] = append(items, cloneItem(item))
	return nil
}

// LoadItem 返回指定条目。
func (m *MemoryStore) LoadItem(_ context.Context, sessionID, itemID string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items[sessionID] {
		if item.ID == itemID {
			return cloneItem(item), nil
		}
	}
	return nil, ErrItemNotFound
}

// DeleteItem 删除指定条目，不存在时不报错。
func (m *MemoryStore) DeleteItem(_ context.Context, sessionID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[sessionID]
	filtered := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			filtered = append(filtered, item)
		}
	}
	m.items[sessionID] = filtered
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
