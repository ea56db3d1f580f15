package memory

// Order 查询排序方式
type Order string

const (
	// OrderTimestampDesc 按时间倒序
	OrderTimestampDesc Order = "timestamp_desc"
	// OrderImportanceDesc 按重要度倒序，重要度相同再按时间倒序
	OrderImportanceDesc Order = "importance_desc"
)

// Filter 消息查询过滤条件
// 零值字段不参与过滤。
type Filter struct {
	UserID        int64
	ChatID        int64
	Category      string
	MinImportance int
	Since         int64 // Unix 秒，含
	Until         int64 // Unix 秒，含
}

// Patch 消息可变字段的更新
// nil 字段不更新。EmbeddingID 指向空字符串表示解除向量链接。
type Patch struct {
	Category    *string
	Importance  *int
	EmbeddingID *string
}

// MessageRepository 消息账本仓库接口
// 写操作返回即持久化；失败以 *StorageError 上抛，调用方不得假设部分成功。
// 读操作永不修改数据。
type MessageRepository interface {
	// Insert 插入一条消息，返回自增主键
	Insert(msg *Message) (int64, error)
	// Update 更新可变字段
	Update(id int64, patch Patch) error
	// Fetch 按主键查询，不存在返回 ErrNotFound
	Fetch(id int64) (*Message, error)
	// FetchMany 按过滤条件查询
	FetchMany(filter Filter, order Order, limit int) ([]*Message, error)
	// FetchByEmbeddingIDs 按向量 ID 集合解析完整消息
	FetchByEmbeddingIDs(embeddingIDs []string) ([]*Message, error)
	// FetchMissingEmbeddings 查询尚未建立向量链接的消息
	FetchMissingEmbeddings(limit int) ([]*Message, error)
	// Count 按过滤条件计数
	Count(filter Filter) (int64, error)
	// CountByCategory 按分类统计
	CountByCategory(userID, chatID int64) ([]CategoryStat, error)
	// ListEmbeddingIDs 返回 embedding_id 到消息 ID 的全量映射
	ListEmbeddingIDs() (map[string]int64, error)
	// DuplicateEmbeddingIDs 返回被多条消息共用的 embedding_id
	// userID / chatID 限定统计范围，0 表示不限定
	DuplicateEmbeddingIDs(userID, chatID int64) ([]string, error)
}
