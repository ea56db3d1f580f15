package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/memvault/backend/internal/domain/memory"
)

// 确保 MessageRepositoryImpl 实现了 memory.MessageRepository 接口
var _ memory.MessageRepository = (*MessageRepositoryImpl)(nil)

// MessageRepositoryImpl 消息账本仓库实现
type MessageRepositoryImpl struct {
	db *sql.DB
}

// NewMessageRepository 创建消息仓库实例
func NewMessageRepository(db *sql.DB) memory.MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

const messageColumns = `id, user_id, chat_id, context_id, role, content, timestamp,
	token_count, COALESCE(category, ''), COALESCE(importance, 0), COALESCE(embedding_id, '')`

// Insert 插入一条消息，返回自增主键
func (r *MessageRepositoryImpl) Insert(msg *memory.Message) (int64, error) {
	query := `
		INSERT INTO messages
		(user_id, chat_id, context_id, role, content, timestamp, token_count, category, importance, embedding_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.Exec(
		query,
		msg.UserID,
		msg.ChatID,
		msg.ContextID,
		string(msg.Role),
		msg.Content,
		msg.Timestamp,
		msg.TokenCount,
		nullString(msg.Category),
		nullInt(msg.Importance),
		nullString(msg.EmbeddingID),
	)
	if err != nil {
		if isEmbeddingUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", memory.ErrDuplicateEmbeddingID, err)
		}
		return 0, memory.NewStorageError("insert message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, memory.NewStorageError("resolve insert id", err)
	}
	return id, nil
}

// Update 更新可变字段，nil 字段保持不变
func (r *MessageRepositoryImpl) Update(id int64, patch memory.Patch) error {
	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, nullString(*patch.Category))
	}
	if patch.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, nullInt(*patch.Importance))
	}
	if patch.EmbeddingID != nil {
		sets = append(sets, "embedding_id = ?")
		args = append(args, nullString(*patch.EmbeddingID))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE messages SET %s WHERE id = ?", strings.Join(sets, ", "))

	result, err := r.db.Exec(query, args...)
	if err != nil {
		if isEmbeddingUniqueViolation(err) {
			return fmt.Errorf("%w: %v", memory.ErrDuplicateEmbeddingID, err)
		}
		return memory.NewStorageError("update message", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return memory.NewStorageError("resolve affected rows", err)
	}
	if affected == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Fetch 按主键查询
func (r *MessageRepositoryImpl) Fetch(id int64) (*memory.Message, error) {
	query := fmt.Sprintf("SELECT %s FROM messages WHERE id = ?", messageColumns)
	msg, err := scanMessage(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, memory.NewStorageError("fetch message", err)
	}
	return msg, nil
}

// FetchMany 按过滤条件查询
func (r *MessageRepositoryImpl) FetchMany(filter memory.Filter, order memory.Order, limit int) ([]*memory.Message, error) {
	where, args := buildWhere(filter)

	orderBy := "timestamp DESC"
	if order == memory.OrderImportanceDesc {
		orderBy = "importance DESC, timestamp DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM messages %s ORDER BY %s", messageColumns, where, orderBy)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryMessages(query, args...)
}

// FetchByEmbeddingIDs 按向量 ID 集合解析完整消息
func (r *MessageRepositoryImpl) FetchByEmbeddingIDs(embeddingIDs []string) ([]*memory.Message, error) {
	if len(embeddingIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(embeddingIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(
		"SELECT %s FROM messages WHERE embedding_id IN (%s)",
		messageColumns, placeholders,
	)

	args := make([]interface{}, len(embeddingIDs))
	for i, id := range embeddingIDs {
		args[i] = id
	}

	return r.queryMessages(query, args...)
}

// FetchMissingEmbeddings 查询尚未建立向量链接的消息
func (r *MessageRepositoryImpl) FetchMissingEmbeddings(limit int) ([]*memory.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE embedding_id IS NULL OR embedding_id = ''
		ORDER BY id ASC`, messageColumns)

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryMessages(query, args...)
}

// Count 按过滤条件计数
func (r *MessageRepositoryImpl) Count(filter memory.Filter) (int64, error) {
	where, args := buildWhere(filter)
	query := "SELECT COUNT(*) FROM messages " + where

	var count int64
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, memory.NewStorageError("count messages", err)
	}
	return count, nil
}

// CountByCategory 按分类统计
func (r *MessageRepositoryImpl) CountByCategory(userID, chatID int64) ([]memory.CategoryStat, error) {
	query := `
		SELECT
			COALESCE(category, '') AS category,
			COUNT(*) AS total,
			ROUND(AVG(CAST(COALESCE(importance, 0) AS FLOAT)), 1) AS avg_importance,
			MAX(timestamp) AS last_message
		FROM messages
		WHERE user_id = ? AND chat_id = ?
		GROUP BY category
		ORDER BY total DESC`

	rows, err := r.db.Query(query, userID, chatID)
	if err != nil {
		return nil, memory.NewStorageError("count by category", err)
	}
	defer rows.Close()

	var stats []memory.CategoryStat
	for rows.Next() {
		var stat memory.CategoryStat
		if err := rows.Scan(&stat.Category, &stat.Total, &stat.AvgImportance, &stat.LastMessage); err != nil {
			return nil, memory.NewStorageError("scan category stat", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.NewStorageError("iterate category stats", err)
	}
	return stats, nil
}

// ListEmbeddingIDs 返回 embedding_id 到消息 ID 的全量映射
func (r *MessageRepositoryImpl) ListEmbeddingIDs() (map[string]int64, error) {
	query := `
		SELECT embedding_id, id FROM messages
		WHERE embedding_id IS NOT NULL AND embedding_id != ''`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, memory.NewStorageError("list embedding ids", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var embeddingID string
		var messageID int64
		if err := rows.Scan(&embeddingID, &messageID); err != nil {
			return nil, memory.NewStorageError("scan embedding id", err)
		}
		ids[embeddingID] = messageID
	}
	if err := rows.Err(); err != nil {
		return nil, memory.NewStorageError("iterate embedding ids", err)
	}
	return ids, nil
}

// DuplicateEmbeddingIDs 返回被多条消息共用的 embedding_id
// userID / chatID 限定统计范围，0 表示不限定
func (r *MessageRepositoryImpl) DuplicateEmbeddingIDs(userID, chatID int64) ([]string, error) {
	conds := []string{"embedding_id IS NOT NULL", "embedding_id != ''"}
	args := make([]interface{}, 0, 2)
	if userID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, userID)
	}
	if chatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, chatID)
	}

	query := fmt.Sprintf(`
		SELECT embedding_id FROM messages
		WHERE %s
		GROUP BY embedding_id
		HAVING COUNT(*) > 1`, strings.Join(conds, " AND "))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, memory.NewStorageError("query duplicate embedding ids", err)
	}
	defer rows.Close()

	var duplicates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memory.NewStorageError("scan duplicate embedding id", err)
		}
		duplicates = append(duplicates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.NewStorageError("iterate duplicate embedding ids", err)
	}
	return duplicates, nil
}

// queryMessages 执行查询并扫描结果集
func (r *MessageRepositoryImpl) queryMessages(query string, args ...interface{}) ([]*memory.Message, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, memory.NewStorageError("query messages", err)
	}
	defer rows.Close()

	var messages []*memory.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, memory.NewStorageError("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.NewStorageError("iterate messages", err)
	}
	return messages, nil
}

// buildWhere 根据过滤条件构建 WHERE 子句
func buildWhere(filter memory.Filter) (string, []interface{}) {
	conds := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)

	if filter.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ChatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, filter.MinImportance)
	}
	if filter.Since > 0 {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// scanner 兼容 *sql.Row 与 *sql.Rows 的扫描接口
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage 扫描一行消息记录
func scanMessage(row scanner) (*memory.Message, error) {
	var msg memory.Message
	var role string
	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.ChatID,
		&msg.ContextID,
		&role,
		&msg.Content,
		&msg.Timestamp,
		&msg.TokenCount,
		&msg.Category,
		&msg.Importance,
		&msg.EmbeddingID,
	)
	if err != nil {
		return nil, err
	}
	msg.Role = memory.Role(role)
	return &msg, nil
}

// isEmbeddingUniqueViolation 是否触碰了 embedding_id 的唯一索引
// modernc.org/sqlite 不导出结构化的约束错误，只能按消息文本判定。
func isEmbeddingUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "messages.embedding_id")
}

// nullString 空字符串写入 NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullInt 零值写入 NULL
func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}
	return i
}
