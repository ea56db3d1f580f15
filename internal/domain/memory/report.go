package memory

// IntegrityReport 完整性扫描结果
// 瞬态值对象，不落盘；由诊断服务产出，供操作员或修复流程消费。
type IntegrityReport struct {
	// GeneratedAt 扫描时刻（Unix 秒）
	GeneratedAt int64 `json:"generated_at"`
	// Filter 扫描时应用的过滤条件
	Filter Filter `json:"filter"`

	// RelationalCount 关系库消息数
	RelationalCount int64 `json:"relational_count"`
	// VectorCount 向量库记录数
	VectorCount int64 `json:"vector_count"`

	// MissingEmbedding 缺少向量链接的消息 ID
	// 包括 embedding_id 为空的行，以及链接指向的向量已不存在的行
	MissingEmbedding []int64 `json:"missing_embedding,omitempty"`
	// OrphanVectors 没有对应关系行的向量 ID
	OrphanVectors []string `json:"orphan_vectors,omitempty"`
	// StaleVectors 内容摘要与关系库不一致的向量 ID
	StaleVectors []string `json:"stale_vectors,omitempty"`
	// DuplicateEmbeddingIDs 被多条消息共用的 embedding_id
	// 唯一索引保证正常路径不会出现，出现即视为缺陷信号
	DuplicateEmbeddingIDs []string `json:"duplicate_embedding_ids,omitempty"`

	// Samples 最近消息抽样（可选，供操作员查看）
	Samples []*Message `json:"samples,omitempty"`
}

// Diverged 两个存储之间是否存在分歧
func (r *IntegrityReport) Diverged() bool {
	return r.DivergenceCount() > 0
}

// DivergenceCount 分歧条目总数
func (r *IntegrityReport) DivergenceCount() int {
	return len(r.MissingEmbedding) +
		len(r.OrphanVectors) +
		len(r.StaleVectors) +
		len(r.DuplicateEmbeddingIDs)
}
