package memory

import "context"

// VectorMetadata 随向量一起写入向量库的最小元数据
// 仅为支持免关系库联查的过滤检索和完整性比对。
type VectorMetadata struct {
	MessageID   int64
	UserID      int64
	ChatID      int64
	Timestamp   int64
	ContentHash string
}

// SearchFilter 向量检索过滤条件
type SearchFilter struct {
	UserID int64
	ChatID int64
	Since  int64 // Unix 秒，0 表示不限制时间
}

// SearchHit 向量检索命中
type SearchHit struct {
	EmbeddingID string
	Score       float32
}

// VectorIndex 向量索引接口
// 实现必须对每个远程调用应用带抖动的指数退避重试；
// 重试耗尽后以 ErrVectorStoreUnavailable 上抛，不泄漏原始传输错误。
// 所有方法必须可并发调用。
type VectorIndex interface {
	// Upsert 写入或覆盖一个向量点
	Upsert(ctx context.Context, embeddingID string, vector []float32, meta VectorMetadata, text string) error
	// Delete 删除若干向量点
	Delete(ctx context.Context, embeddingIDs ...string) error
	// Search 相似度检索，返回按得分降序的命中列表
	Search(ctx context.Context, vector []float32, filter SearchFilter, k int) ([]SearchHit, error)
	// ListRecords 遍历集合中的全部记录（供完整性扫描使用）
	ListRecords(ctx context.Context) ([]VectorRecord, error)
	// Count 集合中的向量点总数
	Count(ctx context.Context) (int64, error)
	// Recreate 删除并重建集合（全量重建前置步骤）
	Recreate(ctx context.Context) error
	// HealthCheck 健康检查；失败时实现应重置连接句柄
	HealthCheck(ctx context.Context) bool
}

// Embedder 不透明的文本向量化函数
type Embedder interface {
	// EmbedText 向量化单条文本
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedTexts 批量向量化
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenCounter Token 计数器
type TokenCounter interface {
	CountTokens(text string) int
}
