package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
	"github.com/memvault/backend/internal/infrastructure/log"
)

// MinQueryWords 低于该词数的查询不触发向量检索
// 过短的查询没有语义区分度，远程往返只是浪费。
const MinQueryWords = 3

// RetrievalOptions 单次检索的参数
// 零值字段回退到引擎默认值；传负值显式关闭对应的过滤，
// 不会被默认值覆盖。
type RetrievalOptions struct {
	// Limit 返回的最大消息数
	Limit int
	// TimeWindow 相似度命中限制在该时间窗口内，负值表示不限时间
	TimeWindow time.Duration
	// SimilarityThreshold 低于该相似度的命中被丢弃，负值表示不过滤
	SimilarityThreshold float32
}

// RetrievalEngine 上下文检索引擎
// 三路来源合并：相似度命中、最近消息、重要消息。
// 纯向量召回会漏掉尚未向量化的新消息和被操作员标记为重要
// 但与当前查询不相邻的消息，所以三路缺一不可。
type RetrievalEngine struct {
	repo     memory.MessageRepository
	index    memory.VectorIndex
	embedder memory.Embedder
	logger   *slog.Logger

	defaults        RetrievalOptions
	recencyCount    int
	importanceFloor int
}

// NewRetrievalEngine 创建检索引擎
func NewRetrievalEngine(
	repo memory.MessageRepository,
	index memory.VectorIndex,
	embedder memory.Embedder,
	cfg *config.RetrievalConfig,
) *RetrievalEngine {
	return &RetrievalEngine{
		repo:     repo,
		index:    index,
		embedder: embedder,
		logger:   log.NewModuleLogger("memory", "retrieval"),
		defaults: RetrievalOptions{
			Limit:               cfg.Limit,
			TimeWindow:          time.Duration(cfg.TimeWindowMinutes) * time.Minute,
			SimilarityThreshold: cfg.SimilarityThreshold,
		},
		recencyCount:    cfg.RecencyCount,
		importanceFloor: cfg.ImportanceFloor,
	}
}

// GetRelevantContext 检索与查询相关的上下文消息
// 返回值中的布尔量表示结果是否因向量库不可用而降级
// （只含最近消息与重要消息两路来源）。
func (e *RetrievalEngine) GetRelevantContext(
	ctx context.Context,
	query string,
	userID, chatID int64,
	opts RetrievalOptions,
) ([]*memory.Message, bool, error) {
	opts = e.applyDefaults(opts)

	degraded := false
	scores := make(map[int64]float32)
	candidates := make(map[int64]*memory.Message)

	// 1. 相似度来源：短查询直接跳过，不触发远程调用
	if countWords(query) >= MinQueryWords {
		vectorHits, err := e.searchSimilar(ctx, query, userID, chatID, opts)
		if err != nil {
			// 关系库错误依旧致命，只有向量侧失败才降级
			if memory.IsStorageError(err) {
				return nil, false, err
			}
			// 向量库不可用时降级为最近+重要两路来源，
			// 返回部分但有效的上下文
			e.logger.Warn("Vector search unavailable, degrading to recency and importance sources",
				"user_id", userID,
				"chat_id", chatID,
				"error", err,
			)
			degraded = true
		} else {
			for _, hit := range vectorHits {
				candidates[hit.msg.ID] = hit.msg
				scores[hit.msg.ID] = hit.score
			}
		}
	} else {
		e.logger.Debug("Query too short for semantic search, skipping vector store",
			"query_words", countWords(query),
		)
	}

	// 2. 最近消息来源
	recent, err := e.repo.FetchMany(
		memory.Filter{UserID: userID, ChatID: chatID},
		memory.OrderTimestampDesc,
		e.recencyCount,
	)
	if err != nil {
		return nil, degraded, err
	}
	for _, msg := range recent {
		candidates[msg.ID] = msg
	}

	// 3. 重要消息来源
	important, err := e.repo.FetchMany(
		memory.Filter{UserID: userID, ChatID: chatID, MinImportance: e.importanceFloor},
		memory.OrderImportanceDesc,
		e.recencyCount,
	)
	if err != nil {
		return nil, degraded, err
	}
	for _, msg := range important {
		candidates[msg.ID] = msg
	}

	merged := make([]*memory.Message, 0, len(candidates))
	for _, msg := range candidates {
		merged = append(merged, msg)
	}

	// 稳定排序：重要度降序 → 时间降序 → 相似度降序
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		if scores[a.ID] != scores[b.ID] {
			return scores[a.ID] > scores[b.ID]
		}
		return a.ID > b.ID
	})

	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	return merged, degraded, nil
}

// scoredMessage 相似度来源的候选
type scoredMessage struct {
	msg   *memory.Message
	score float32
}

// searchSimilar 执行相似度检索并解析回完整消息
func (e *RetrievalEngine) searchSimilar(
	ctx context.Context,
	query string,
	userID, chatID int64,
	opts RetrievalOptions,
) ([]scoredMessage, error) {
	vector, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := memory.SearchFilter{UserID: userID, ChatID: chatID}
	if opts.TimeWindow > 0 {
		filter.Since = time.Now().Add(-opts.TimeWindow).Unix()
	}

	hits, err := e.index.Search(ctx, vector, filter, opts.Limit)
	if err != nil {
		return nil, err
	}

	// 阈值过滤先于解析，低分命中不值得一次关系库往返
	surviving := make([]string, 0, len(hits))
	scoreByEmbedding := make(map[string]float32, len(hits))
	for _, hit := range hits {
		if opts.SimilarityThreshold >= 0 && hit.Score < opts.SimilarityThreshold {
			continue
		}
		surviving = append(surviving, hit.EmbeddingID)
		scoreByEmbedding[hit.EmbeddingID] = hit.Score
	}
	if len(surviving) == 0 {
		return nil, nil
	}

	messages, err := e.repo.FetchByEmbeddingIDs(surviving)
	if err != nil {
		return nil, err
	}

	results := make([]scoredMessage, 0, len(messages))
	for _, msg := range messages {
		results = append(results, scoredMessage{
			msg:   msg,
			score: scoreByEmbedding[msg.EmbeddingID],
		})
	}
	return results, nil
}

// applyDefaults 用引擎默认值补全检索参数
// 只有零值被补全，负值是调用方显式关闭过滤的信号，原样保留。
func (e *RetrievalEngine) applyDefaults(opts RetrievalOptions) RetrievalOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.defaults.Limit
	}
	if opts.TimeWindow == 0 {
		opts.TimeWindow = e.defaults.TimeWindow
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = e.defaults.SimilarityThreshold
	}
	return opts
}

// countWords 统计查询词数
func countWords(s string) int {
	return len(strings.Fields(s))
}
