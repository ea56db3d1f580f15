package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/log"
)

// rebuildBatchSize 全量重建时单批向量化的消息数
const rebuildBatchSize = 64

// Coordinator 跨存储一致性协调器
// 两个存储之间没有共享事务，写入按固定顺序进行：先写关系库
// （可信来源），再写向量库；向量写入失败时行保持 embedding_id
// 为空的待补齐状态，由后台补齐和修复收敛，而不是回滚关系行。
type Coordinator struct {
	repo     memory.MessageRepository
	index    memory.VectorIndex
	embedder memory.Embedder
	tokens   memory.TokenCounter
	classify memory.Classifier
	locks    *LockTable
	logger   *slog.Logger
}

// NewCoordinator 创建一致性协调器
func NewCoordinator(
	repo memory.MessageRepository,
	index memory.VectorIndex,
	embedder memory.Embedder,
	tokens memory.TokenCounter,
	classify memory.Classifier,
) *Coordinator {
	if classify == nil {
		classify = memory.DefaultClassifier
	}
	return &Coordinator{
		repo:     repo,
		index:    index,
		embedder: embedder,
		tokens:   tokens,
		classify: classify,
		locks:    NewLockTable(DefaultLockTimeout),
		logger:   log.NewModuleLogger("memory", "coordinator"),
	}
}

// WriteMessage 写入一条消息
// 同一会话的写入被 (user_id, chat_id) 锁串行化。关系库写入失败
// 是致命错误；向量库失败只降级为待补齐状态，消息写入本身仍然成功。
func (c *Coordinator) WriteMessage(ctx context.Context, draft memory.Draft) (*memory.Message, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	release, err := c.locks.Acquire(ctx, draft.UserID, draft.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	category, importance := draft.Category, draft.Importance
	if category == "" || importance == 0 {
		derivedCategory, derivedImportance := c.classify(draft.Content)
		if category == "" {
			category = derivedCategory
		}
		if importance == 0 {
			importance = derivedImportance
		}
	}

	msg := &memory.Message{
		UserID:     draft.UserID,
		ChatID:     draft.ChatID,
		ContextID:  draft.ContextID,
		Role:       draft.Role,
		Content:    draft.Content,
		Timestamp:  time.Now().Unix(),
		TokenCount: c.tokens.CountTokens(draft.Content),
		Category:   category,
		Importance: importance,
	}

	id, err := c.repo.Insert(msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id

	// 向量侧失败不回滚关系行：行保持待补齐状态，
	// 由 SyncMissingEmbeddings 之后收敛；
	// 关系库自身的失败仍然致命
	embeddingID, err := c.embedAndLink(ctx, msg)
	if err != nil {
		if memory.IsStorageError(err) {
			return nil, err
		}
		c.logger.Warn("Message persisted without embedding, pending repair",
			"message_id", id,
			"user_id", draft.UserID,
			"chat_id", draft.ChatID,
			"error", err,
		)
		return msg, nil
	}

	msg.EmbeddingID = embeddingID
	return msg, nil
}

// embedAndLink 为一条已持久化的消息建立向量链接
// 调用方必须持有该消息所属会话的锁。错误可能来自向量化、
// 向量库或链接回写；回写失败是 *StorageError，调用方负责区分传播。
func (c *Coordinator) embedAndLink(ctx context.Context, msg *memory.Message) (string, error) {
	vector, err := c.embedder.EmbedText(ctx, msg.Content)
	if err != nil {
		return "", fmt.Errorf("failed to embed content: %w", err)
	}

	embeddingID := DeriveEmbeddingID(msg.ID)
	meta := memory.VectorMetadata{
		MessageID:   msg.ID,
		UserID:      msg.UserID,
		ChatID:      msg.ChatID,
		Timestamp:   msg.Timestamp,
		ContentHash: memory.HashContent(msg.Content),
	}

	if err := c.index.Upsert(ctx, embeddingID, vector, meta, msg.Content); err != nil {
		return "", err
	}

	if err := c.repo.Update(msg.ID, memory.Patch{EmbeddingID: &embeddingID}); err != nil {
		return "", err
	}
	return embeddingID, nil
}

// SyncMissingEmbeddings 为缺少向量链接的消息补齐向量
// 幂等：只处理在会话锁内复查后仍缺链接的行，可与新写入并发运行，
// 也可以重复运行。返回成功补齐的条数。
func (c *Coordinator) SyncMissingEmbeddings(ctx context.Context, batchSize int) (int, error) {
	rows, err := c.repo.FetchMissingEmbeddings(batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	c.logger.Info("Syncing missing embeddings", "count", len(rows))

	synced := 0
	for _, row := range rows {
		if err := c.relinkMessage(ctx, row.ID); err != nil {
			if memory.IsStorageError(err) {
				return synced, err
			}
			c.logger.Warn("Failed to sync embedding, leaving pending",
				"message_id", row.ID,
				"error", err,
			)
			continue
		}
		synced++
	}

	c.logger.Info("Missing embeddings synced", "synced", synced, "total", len(rows))
	return synced, nil
}

// relinkMessage 在会话锁内重建一条消息的向量链接
// 锁内复查行状态，已被并发补齐的行直接跳过。
func (c *Coordinator) relinkMessage(ctx context.Context, messageID int64) error {
	msg, err := c.repo.Fetch(messageID)
	if err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, msg.UserID, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	// 锁内复查：可能已被并发写路径或另一次补齐处理
	msg, err = c.repo.Fetch(messageID)
	if err != nil {
		return err
	}
	if msg.HasEmbedding() {
		return nil
	}

	_, err = c.embedAndLink(ctx, msg)
	return err
}

// reembedMessage 在会话锁内无条件重建一条消息的向量
// 修复路径专用：报告里的缺失链接可能是悬挂链接 —— 行已链接但
// 向量侧没有对应的点，不能像补齐路径那样按已链接跳过。
// 过期和重复链接同样走这里，重新向量化并回写派生 ID。
func (c *Coordinator) reembedMessage(ctx context.Context, messageID int64) error {
	msg, err := c.repo.Fetch(messageID)
	if err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, msg.UserID, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	msg, err = c.repo.Fetch(messageID)
	if err != nil {
		return err
	}

	_, err = c.embedAndLink(ctx, msg)
	return err
}

// RepairDivergence 根据完整性报告修复两个存储之间的分歧
// 孤儿向量被删除，缺失/过期/重复链接的行被重新向量化。
// force 为真时放弃增量修补，直接从关系账本全量重建向量库 ——
// 分歧大到增量修复不可信时使用。
func (c *Coordinator) RepairDivergence(ctx context.Context, report *memory.IntegrityReport, force bool) error {
	if force {
		return c.rebuildIndex(ctx)
	}
	if report == nil || !report.Diverged() {
		return nil
	}

	c.logger.Info("Repairing divergence",
		"missing", len(report.MissingEmbedding),
		"orphans", len(report.OrphanVectors),
		"stale", len(report.StaleVectors),
		"duplicates", len(report.DuplicateEmbeddingIDs),
	)

	// 1. 删除没有关系行的孤儿向量
	if len(report.OrphanVectors) > 0 {
		if err := c.index.Delete(ctx, report.OrphanVectors...); err != nil {
			return fmt.Errorf("failed to delete orphan vectors: %w", err)
		}
	}

	// 2. 过期向量重新向量化
	for _, embeddingID := range report.StaleVectors {
		if err := c.refreshByEmbeddingID(ctx, embeddingID); err != nil {
			return err
		}
	}

	// 3. 重复链接：保留派生规则命中的那一行，其余行重新派生
	for _, embeddingID := range report.DuplicateEmbeddingIDs {
		if err := c.resolveDuplicate(ctx, embeddingID); err != nil {
			return err
		}
	}

	// 4. 缺失链接的消息重新向量化
	// 这里不能用 relinkMessage：悬挂链接的行仍处于已链接状态，
	// 按已链接跳过会让修复永远不收敛
	for _, messageID := range report.MissingEmbedding {
		if err := c.reembedMessage(ctx, messageID); err != nil {
			return err
		}
	}

	return nil
}

// refreshByEmbeddingID 重新向量化某个向量 ID 对应的消息
func (c *Coordinator) refreshByEmbeddingID(ctx context.Context, embeddingID string) error {
	rows, err := c.repo.FetchByEmbeddingIDs([]string{embeddingID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// 关系侧已无此链接，按孤儿删除
		return c.index.Delete(ctx, embeddingID)
	}
	for _, row := range rows {
		if err := c.reembedMessage(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

// resolveDuplicate 消解一个被多行共用的 embedding_id
// 派生规则保证 `DeriveEmbeddingID(row.ID) == embeddingID` 至多
// 对一行成立：该行保留链接，其余行重新派生后回写。
func (c *Coordinator) resolveDuplicate(ctx context.Context, embeddingID string) error {
	rows, err := c.repo.FetchByEmbeddingIDs([]string{embeddingID})
	if err != nil {
		return err
	}
	if len(rows) <= 1 {
		return nil
	}

	keeperFound := false
	for _, row := range rows {
		if !keeperFound && DeriveEmbeddingID(row.ID) == embeddingID {
			keeperFound = true
			continue
		}
		if err := c.reembedMessage(ctx, row.ID); err != nil {
			return err
		}
	}

	// 没有任何行的派生结果等于该 ID：向量本身是外来数据，删除
	if !keeperFound {
		if err := c.index.Delete(ctx, embeddingID); err != nil {
			return err
		}
	}
	return nil
}

// rebuildIndex 从关系账本全量重建向量库
// 集合被删除重建，所有消息按批重新向量化；派生规则不变，
// 重建后的 ID 空间与增量路径完全一致。
func (c *Coordinator) rebuildIndex(ctx context.Context) error {
	c.logger.Info("Rebuilding vector index from relational ledger")

	if err := c.index.Recreate(ctx); err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}

	rows, err := c.repo.FetchMany(memory.Filter{}, memory.OrderTimestampDesc, 0)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); start += rebuildBatchSize {
		end := start + rebuildBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := c.rebuildBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	c.logger.Info("Vector index rebuilt", "messages", len(rows))
	return nil
}

// rebuildBatch 重建一批消息的向量
func (c *Coordinator) rebuildBatch(ctx context.Context, rows []*memory.Message) error {
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Content
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed rebuild batch: %w", err)
	}
	if len(vectors) != len(rows) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(rows))
	}

	for i, row := range rows {
		embeddingID := DeriveEmbeddingID(row.ID)
		meta := memory.VectorMetadata{
			MessageID:   row.ID,
			UserID:      row.UserID,
			ChatID:      row.ChatID,
			Timestamp:   row.Timestamp,
			ContentHash: memory.HashContent(row.Content),
		}

		if err := c.index.Upsert(ctx, embeddingID, vectors[i], meta, row.Content); err != nil {
			return err
		}

		if row.EmbeddingID != embeddingID {
			if err := c.repo.Update(row.ID, memory.Patch{EmbeddingID: &embeddingID}); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateDraft 校验消息草稿
func validateDraft(draft memory.Draft) error {
	if draft.UserID == 0 || draft.ChatID == 0 {
		return fmt.Errorf("%w: user_id and chat_id are required", memory.ErrInvalidDraft)
	}
	if draft.Content == "" {
		return fmt.Errorf("%w: content is empty", memory.ErrInvalidDraft)
	}
	if !draft.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", memory.ErrInvalidDraft, draft.Role)
	}
	if draft.Importance < 0 || draft.Importance > 5 {
		return fmt.Errorf("%w: importance must be within 1-5", memory.ErrInvalidDraft)
	}
	return nil
}
