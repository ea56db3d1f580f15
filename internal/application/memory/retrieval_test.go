package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
)

func newTestEngine(repo *fakeRepo, index *fakeIndex, embedder *fakeEmbedder, cfg *config.RetrievalConfig) *RetrievalEngine {
	if cfg == nil {
		cfg = &config.RetrievalConfig{
			Limit:               5,
			TimeWindowMinutes:   30,
			SimilarityThreshold: 0.2,
			RecencyCount:        10,
			ImportanceFloor:     4,
			MaxContextTokens:    20000,
		}
	}
	return NewRetrievalEngine(repo, index, embedder, cfg)
}

// seedMessage 直接写入一条已链接向量的消息
func seedMessage(t *testing.T, repo *fakeRepo, index *fakeIndex, msg *memory.Message, score float32) *memory.Message {
	t.Helper()

	id, err := repo.Insert(msg)
	require.NoError(t, err)
	msg.ID = id

	embeddingID := DeriveEmbeddingID(id)
	require.NoError(t, repo.Update(id, memory.Patch{EmbeddingID: &embeddingID}))
	msg.EmbeddingID = embeddingID

	meta := memory.VectorMetadata{
		MessageID:   id,
		UserID:      msg.UserID,
		ChatID:      msg.ChatID,
		Timestamp:   msg.Timestamp,
		ContentHash: memory.HashContent(msg.Content),
	}
	require.NoError(t, index.Upsert(context.Background(), embeddingID, []float32{1, 0}, meta, msg.Content))
	index.setScore(embeddingID, score)
	return msg
}

func TestGetRelevantContextShortQuerySkipsVectorStore(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	embedder := &fakeEmbedder{}
	engine := newTestEngine(repo, index, embedder, nil)

	now := time.Now().Unix()
	seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "recent note", Timestamp: now, Importance: 2,
	}, 0.9)

	results, degraded, err := engine.GetRelevantContext(context.Background(), "hello", 1, 100, RetrievalOptions{})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Len(t, results, 1)

	// 向量库和向量化器都不应被触碰
	assert.Zero(t, index.searchCalls)
	assert.Zero(t, embedder.callCount())
}

func TestGetRelevantContextThresholdFiltering(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	engine := newTestEngine(repo, index, &fakeEmbedder{}, &config.RetrievalConfig{
		Limit:               10,
		SimilarityThreshold: 0.5,
		RecencyCount:        1,
		ImportanceFloor:     5,
	})

	now := time.Now().Unix()
	strong := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "strong semantic match", Timestamp: now - 100, Importance: 2,
	}, 0.9)
	weak := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "barely related noise", Timestamp: now - 200, Importance: 2,
	}, 0.1)
	recent := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "most recent message", Timestamp: now, Importance: 2,
	}, 0.0)

	results, degraded, err := engine.GetRelevantContext(context.Background(), "what was the semantic match", 1, 100, RetrievalOptions{})
	require.NoError(t, err)
	assert.False(t, degraded)

	ids := resultIDs(results)
	assert.Contains(t, ids, strong.ID)
	assert.Contains(t, ids, recent.ID) // 最近来源
	assert.NotContains(t, ids, weak.ID, "below-threshold hit must be dropped")
}

func TestGetRelevantContextNegativeOptionsDisableFilters(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	engine := newTestEngine(repo, index, &fakeEmbedder{}, &config.RetrievalConfig{
		Limit:               10,
		TimeWindowMinutes:   30,
		SimilarityThreshold: 0.5,
		RecencyCount:        1,
		ImportanceFloor:     5,
	})

	now := time.Now().Unix()
	// 低分且远在默认时间窗口之外，默认参数下两道过滤都会把它拦下
	old := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "weak match from last week", Timestamp: now - 7*24*3600, Importance: 2,
	}, 0.1)
	recent := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "most recent message", Timestamp: now, Importance: 2,
	}, 0.0)

	results, degraded, err := engine.GetRelevantContext(context.Background(),
		"anything vaguely related counts", 1, 100, RetrievalOptions{})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.NotContains(t, resultIDs(results), old.ID, "default threshold and window must filter it")

	// 负值显式关闭阈值和时间窗口，不被默认值覆盖
	results, degraded, err = engine.GetRelevantContext(context.Background(),
		"anything vaguely related counts", 1, 100, RetrievalOptions{
			TimeWindow:          -1,
			SimilarityThreshold: -1,
		})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Contains(t, resultIDs(results), old.ID)
	assert.Contains(t, resultIDs(results), recent.ID)
}

func TestGetRelevantContextMergeOrder(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	// 最近来源只取 1 条，重要度下限 4，上限 3 条
	engine := newTestEngine(repo, index, &fakeEmbedder{}, &config.RetrievalConfig{
		Limit:               3,
		SimilarityThreshold: 0.2,
		RecencyCount:        1,
		ImportanceFloor:     4,
	})

	now := time.Now().Unix()
	m1 := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "older but semantically relevant", Timestamp: now - 3600, Importance: 2,
	}, 0.8)
	seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "filler in between", Timestamp: now - 1800, Importance: 1,
	}, 0.0)
	m3 := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "operator flagged as critical", Timestamp: now - 1200, Importance: 5,
	}, 0.0)
	seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "another filler row", Timestamp: now - 600, Importance: 1,
	}, 0.0)
	m5 := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "newest message in the chat", Timestamp: now, Importance: 3,
	}, 0.0)

	results, degraded, err := engine.GetRelevantContext(context.Background(), "looking for the relevant discussion", 1, 100, RetrievalOptions{TimeWindow: 2 * time.Hour})
	require.NoError(t, err)
	assert.False(t, degraded)

	// 重要度优先，其次时间，相似度命中垫底
	require.Len(t, results, 3)
	assert.Equal(t, m3.ID, results[0].ID)
	assert.Equal(t, m5.ID, results[1].ID)
	assert.Equal(t, m1.ID, results[2].ID)
}

func TestGetRelevantContextDegradesOnVectorOutage(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	index.failSearch = errIndexDown
	engine := newTestEngine(repo, index, &fakeEmbedder{}, nil)

	now := time.Now().Unix()
	recent := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "still reachable through recency", Timestamp: now, Importance: 2,
	}, 0.9)
	important := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "still reachable through importance", Timestamp: now - 9000, Importance: 5,
	}, 0.9)

	results, degraded, err := engine.GetRelevantContext(context.Background(), "query long enough for semantic search", 1, 100, RetrievalOptions{})
	require.NoError(t, err)
	assert.True(t, degraded, "vector outage must surface as degraded result")

	ids := resultIDs(results)
	assert.Contains(t, ids, recent.ID)
	assert.Contains(t, ids, important.ID)
}

func TestGetRelevantContextConversationIsolation(t *testing.T) {
	repo := newFakeRepo()
	index := newFakeIndex()
	engine := newTestEngine(repo, index, &fakeEmbedder{}, nil)

	now := time.Now().Unix()
	mine := seedMessage(t, repo, index, &memory.Message{
		UserID: 1, ChatID: 100, Role: memory.RoleUser,
		Content: "belongs to my conversation", Timestamp: now, Importance: 2,
	}, 0.9)
	seedMessage(t, repo, index, &memory.Message{
		UserID: 2, ChatID: 200, Role: memory.RoleUser,
		Content: "belongs to someone else entirely", Timestamp: now, Importance: 5,
	}, 0.9)

	results, _, err := engine.GetRelevantContext(context.Background(), "show me my conversation context", 1, 100, RetrievalOptions{})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, mine.ID, results[0].ID)
}

func resultIDs(messages []*memory.Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}
