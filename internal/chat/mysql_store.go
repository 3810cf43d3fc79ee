package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strconv"
	"strings"
	"time"

	xerrors "ENS-Agent-Chain/internal/errors"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化会话历史。存储层故障以
// STORAGE_FAILURE 上抛，不会留下半写的条目。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore 并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const sessions = `CREATE TABLE IF NOT EXISTS chat_sessions (
        id VARCHAR(64) PRIMARY KEY,
        title VARCHAR(255) DEFAULT '',
        created_at BIGINT NOT NULL
)`
	// seq 保证条目读取顺序与追加顺序一致；item_id 不加唯一约束，
	// AppendItem 允许重复 ID。
	const items = `CREATE TABLE IF NOT EXISTS chat_items (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        item_id VARCHAR(64) NOT NULL,
        session_id VARCHAR(64) NOT NULL,
        item_type VARCHAR(32) NOT NULL,
        content MEDIUMTEXT,
        widget MEDIUMTEXT,
        tool_call MEDIUMTEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_chat_items_session (session_id, seq),
        INDEX idx_chat_items_item (session_id, item_id)
)`

	if _, err := s.db.Exec(sessions); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 chat_sessions 表失败")
	}
	if _, err := s.db.Exec(items); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 chat_items 表失败")
	}
	return nil
}

// CreateSessionID 实现 Store 接口。
func (s *MySQLStore) CreateSessionID() string {
	return uuid.NewString()
}

// CreateItemID 实现 Store 接口。
func (s *MySQLStore) CreateItemID(_ ItemType, _ *Session) string {
	return uuid.NewString()
}

// LoadSession 返回会话元数据。
func (s *MySQLStore) LoadSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM chat_sessions WHERE id = ?`, id)
	session := &Session{}
	if err := row.Scan(&session.ID, &session.Title, &session.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return session, nil
}

// SaveSession 创建或覆盖会话元数据。
func (s *MySQLStore) SaveSession(ctx context.Context, session *Session) error {
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, created_at) VALUES (?, ?, ?)
         ON DUPLICATE KEY UPDATE title = VALUES(title)`,
		session.ID, session.Title, session.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存会话失败")
	}
	return nil
}

// ListSessions 按创建顺序返回会话分页。
func (s *MySQLStore) ListSessions(ctx context.Context, limit int, _ string, order Order) (SessionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chat_sessions ORDER BY created_at ASC, id ASC LIMIT ?`, limit+1)
	if err != nil {
		return SessionPage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	sessions := make([]*Session, 0, limit)
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt); err != nil {
			return SessionPage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话记录失败")
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return SessionPage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话记录失败")
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
func (s *MySQLStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_items WHERE session_id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话条目失败")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// LoadItems 按追加顺序返回条目分页。after 为上一页最后一条的内部序号。
func (s *MySQLStore) LoadItems(ctx context.Context, sessionID, after string, limit int, order Order) (ItemPage, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor := int64(0)
	if after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return ItemPage{}, xerrors.New(xerrors.CodeInvalidArgument, "无效的分页游标")
		}
		cursor = parsed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, item_id, session_id, item_type, content, widget, tool_call, created_at
         FROM chat_items WHERE session_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		sessionID, cursor, limit+1)
	if err != nil {
		return ItemPage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话条目失败")
	}
	defer rows.Close()

	items := make([]*Item, 0, limit)
	lastSeq := int64(0)
	for rows.Next() {
		item, seq, err := scanItem(rows)
		if err != nil {
			return ItemPage{}, err
		}
		items = append(items, item)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return ItemPage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话条目失败")
	}

	hasMore := len(items) > limit
	nextAfter := ""
	if hasMore {
		items = items[:limit]
		nextAfter = strconv.FormatInt(lastSeq, 10)
	}
	if order == OrderDesc {
		reverseItems(items)
	}
	return ItemPage{Data: items, HasMore: hasMore, After: nextAfter}, nil
}

// AppendItem 无条件追加条目到会话末尾。
func (s *MySQLStore) AppendItem(ctx context.Context, sessionID string, item *Item) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	content, widget, toolCall, err := encodeItemPayload(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_items (item_id, session_id, item_type, content, widget, tool_call, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, sessionID, string(item.Type), content, widget, toolCall, item.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加会话条目失败")
	}
	return nil
}

// UpsertItem 按 ID 原位替换，不存在时追加。
func (s *MySQLStore) UpsertItem(ctx context.Context, sessionID string, item *Item) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	content, widget, toolCall, err := encodeItemPayload(item)
	if err != nil {
		return err
	}

	var seq int64
	row := s.db.QueryRowContext(ctx,
		`SELECT seq FROM chat_items WHERE session_id = ? AND item_id = ? ORDER BY seq ASC LIMIT 1`,
		sessionID, item.ID)
	scanErr := row.Scan(&seq)
	switch {
	case scanErr == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE chat_items SET item_type = ?, content = ?, widget = ?, tool_call = ? WHERE seq = ?`,
			string(item.Type), content, widget, toolCall, seq)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换会话条目失败")
		}
		return nil
	case stdErrors.Is(scanErr, sql.ErrNoRows):
		return s.AppendItem(ctx, sessionID, item)
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, scanErr, "查询会话条目失败")
	}
}

// LoadItem 返回指定条目。
func (s *MySQLStore) LoadItem(ctx context.Context, sessionID, itemID string) (*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, item_id, session_id, item_type, content, widget, tool_call, created_at
         FROM chat_items WHERE session_id = ? AND item_id = ? ORDER BY seq ASC LIMIT 1`,
		sessionID, itemID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话条目失败")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话条目失败")
		}
		return nil, ErrItemNotFound
	}
	item, _, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem 删除指定条目。
func (s *MySQLStore) DeleteItem(ctx context.Context, sessionID, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_items WHERE session_id = ? AND item_id = ?`, sessionID, itemID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话条目失败")
	}
	return nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeItemPayload(item *Item) (content string, widget sql.NullString, toolCall sql.NullString, err error) {
	content = item.Content
	if len(item.Widget) > 0 {
		widget = sql.NullString{String: string(item.Widget), Valid: true}
	}
	if item.ToolCall != nil {
		encoded, marshalErr := json.Marshal(item.ToolCall)
		if marshalErr != nil {
			return "", sql.NullString{}, sql.NullString{},
				xerrors.Wrap(xerrors.CodeInvalidArgument, marshalErr, "序列化工具调用失败")
		}
		toolCall = sql.NullString{String: string(encoded), Valid: true}
	}
	return content, widget, toolCall, nil
}

func scanItem(rows *sql.Rows) (*Item, int64, error) {
	var (
		seq      int64
		itemType string
		content  sql.NullString
		widget   sql.NullString
		toolCall sql.NullString
	)
	item := &Item{}
	if err := rows.Scan(&seq, &item.ID, &item.SessionID, &itemType, &content, &widget, &toolCall, &item.CreatedAt); err != nil {
		return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话条目失败")
	}
	item.Type = ItemType(itemType)
	if content.Valid {
		item.Content = content.String
	}
	if widget.Valid {
		item.Widget = json.RawMessage(widget.String)
	}
	if toolCall.Valid {
		call := &ToolCallPayload{}
		if err := json.Unmarshal([]byte(toolCall.String), call); err != nil {
			return nil, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工具调用失败")
		}
		item.ToolCall = call
	}
	return item, seq, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
