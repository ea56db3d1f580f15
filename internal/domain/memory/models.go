package memory

import (
	"crypto/sha256"
	"encoding/hex"
)

// Role 消息角色
type Role string

const (
	// RoleUser 用户消息
	RoleUser Role = "user"
	// RoleAssistant 助手消息
	RoleAssistant Role = "assistant"
	// RoleSystem 系统消息
	RoleSystem Role = "system"
)

// Valid 检查角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message 单条会话消息
// 关系库是内容和元数据的唯一可信来源。
// 消息创建后不可变，仅 Category、Importance、EmbeddingID 允许更新。
// EmbeddingID 为空字符串表示向量库中没有对应向量（待补齐状态）。
type Message struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	ChatID      int64  `json:"chat_id"`
	ContextID   string `json:"context_id"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"` // Unix 秒，创建时刻
	TokenCount  int    `json:"token_count"`
	Category    string `json:"category,omitempty"`   // 空表示未分类
	Importance  int    `json:"importance,omitempty"` // 1-5，0 表示未设置
	EmbeddingID string `json:"embedding_id,omitempty"`
}

// HasEmbedding 是否已建立向量链接
func (m *Message) HasEmbedding() bool {
	return m.EmbeddingID != ""
}

// Draft 待写入的消息草稿
// Category 和 Importance 为空时由分类器在写入路径填充。
type Draft struct {
	UserID     int64
	ChatID     int64
	ContextID  string
	Role       Role
	Content    string
	Category   string
	Importance int
}

// VectorRecord 向量库中一条记录的元数据视图
// 内容本体仍然只存在于关系库，这里携带的字段仅用于
// 过滤检索和完整性比对。
type VectorRecord struct {
	EmbeddingID string
	MessageID   int64
	UserID      int64
	ChatID      int64
	Timestamp   int64
	ContentHash string
}

// CategoryStat 按分类聚合的统计
type CategoryStat struct {
	Category      string  `json:"category"`
	Total         int64   `json:"total"`
	AvgImportance float64 `json:"avg_importance"`
	LastMessage   int64   `json:"last_message"`
}

// HashContent 计算消息内容的 SHA-256 十六进制摘要
// 向量 payload 携带该摘要，完整性扫描用它比对向量文本
// 与关系库内容是否一致，而不需要回传全文。
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
