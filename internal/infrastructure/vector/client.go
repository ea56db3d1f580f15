package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
	"github.com/memvault/backend/internal/infrastructure/log"
	"github.com/qdrant/go-client/qdrant"
)

// 确保 Client 实现了 memory.VectorIndex 接口
var _ memory.VectorIndex = (*Client)(nil)

// Client Qdrant 向量索引客户端
// 每个进程只构造一个实例，由组合根创建并注入到所有使用方，
// 生命周期（初始化/关闭）由组合根管理，不依赖隐藏的全局状态。
// 连接句柄懒建立；健康检查失败后句柄被丢弃，下次调用重新拨号。
// 所有方法可并发调用。
type Client struct {
	cfg    *config.QdrantConfig
	retry  RetryPolicy
	logger *slog.Logger

	mu   sync.Mutex
	conn *qdrant.Client
}

// NewClient 创建向量索引客户端
func NewClient(cfg *config.QdrantConfig) *Client {
	return &Client{
		cfg:    cfg,
		retry:  DefaultRetryPolicy(),
		logger: log.NewModuleLogger("vector", "client"),
	}
}

// NewClientWithRetry 使用自定义重试策略创建客户端
func NewClientWithRetry(cfg *config.QdrantConfig, retry RetryPolicy) *Client {
	c := NewClient(cfg)
	c.retry = retry
	return c
}

// getConn 获取连接句柄，必要时懒拨号
func (c *Client) getConn() (*qdrant.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.cfg.Host,
		Port:   c.cfg.Port,
		APIKey: c.cfg.APIKey,
		UseTLS: c.cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	c.logger.Info("Connected to qdrant",
		"host", c.cfg.Host,
		"port", c.cfg.Port,
		"collection", c.cfg.Collection,
	)

	c.conn = conn
	return c.conn, nil
}

// resetConn 丢弃当前连接句柄，下次调用重新建立
func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Warn("Qdrant connection handle dropped, will re-dial on next call")
	}
}

// Close 关闭连接（进程退出时由组合根调用）
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// EnsureCollection 确保集合存在
func (c *Client) EnsureCollection(ctx context.Context) error {
	return withRetry(ctx, c.retry, c.logger, "ensure collection", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}

		exists, err := conn.CollectionExists(ctx, c.cfg.Collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		return conn.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// Upsert 写入或覆盖一个向量点
func (c *Client) Upsert(ctx context.Context, embeddingID string, vector []float32, meta memory.VectorMetadata, text string) error {
	return withRetry(ctx, c.retry, c.logger, "upsert point", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}

		_, err = conn.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.cfg.Collection,
			Points: []*qdrant.PointStruct{
				{
					Id:      qdrant.NewID(embeddingID),
					Vectors: qdrant.NewVectors(vector...),
					Payload: qdrant.NewValueMap(map[string]interface{}{
						"message_id":   meta.MessageID,
						"user_id":      meta.UserID,
						"chat_id":      meta.ChatID,
						"timestamp":    meta.Timestamp,
						"content_hash": meta.ContentHash,
						"text":         text,
					}),
				},
			},
		})
		return err
	})
}

// Delete 删除若干向量点
func (c *Client) Delete(ctx context.Context, embeddingIDs ...string) error {
	if len(embeddingIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(embeddingIDs))
	for i, id := range embeddingIDs {
		ids[i] = qdrant.NewID(id)
	}

	return withRetry(ctx, c.retry, c.logger, "delete points", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}

		_, err = conn.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.cfg.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: ids,
					},
				},
			},
		})
		return err
	})
}

// Search 相似度检索，返回按得分降序的命中列表
func (c *Client) Search(ctx context.Context, vector []float32, filter memory.SearchFilter, k int) ([]memory.SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)

	var points []*qdrant.ScoredPoint
	err := withRetry(ctx, c.retry, c.logger, "search points", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}

		points, err = conn.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.cfg.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          &limit,
			Filter:         buildSearchFilter(filter),
			WithPayload:    qdrant.NewWithPayload(false),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	hits := make([]memory.SearchHit, 0, len(points))
	for _, point := range points {
		id := point.GetId().GetUuid()
		if id == "" {
			continue
		}
		hits = append(hits, memory.SearchHit{
			EmbeddingID: id,
			Score:       point.GetScore(),
		})
	}
	return hits, nil
}

// ListRecords 遍历集合中的全部记录（供完整性扫描使用）
func (c *Client) ListRecords(ctx context.Context) ([]memory.VectorRecord, error) {
	var records []memory.VectorRecord
	pageSize := uint32(256)
	var offset *qdrant.PointId

	for {
		var resp *qdrant.ScrollResponse
		err := withRetry(ctx, c.retry, c.logger, "scroll points", func() error {
			conn, err := c.getConn()
			if err != nil {
				return err
			}

			resp, err = conn.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: c.cfg.Collection,
				Limit:          &pageSize,
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayload(true),
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, point := range resp.GetResult() {
			id := point.GetId().GetUuid()
			if id == "" {
				continue
			}
			payload := point.GetPayload()
			records = append(records, memory.VectorRecord{
				EmbeddingID: id,
				MessageID:   payloadInt(payload, "message_id"),
				UserID:      payloadInt(payload, "user_id"),
				ChatID:      payloadInt(payload, "chat_id"),
				Timestamp:   payloadInt(payload, "timestamp"),
				ContentHash: payloadString(payload, "content_hash"),
			})
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return records, nil
}

// Count 集合中的向量点总数
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count uint64
	err := withRetry(ctx, c.retry, c.logger, "count points", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}

		count, err = conn.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.cfg.Collection,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

// Recreate 删除并重建集合（全量重建前置步骤）
func (c *Client) Recreate(ctx context.Context) error {
	err := withRetry(ctx, c.retry, c.logger, "delete collection", func() error {
		conn, err := c.getConn()
		if err != nil {
			return err
		}
		return conn.DeleteCollection(ctx, c.cfg.Collection)
	})
	if err != nil {
		return err
	}
	return c.EnsureCollection(ctx)
}

// HealthCheck 健康检查；失败时丢弃连接句柄以便下次调用重建
func (c *Client) HealthCheck(ctx context.Context) bool {
	conn, err := c.getConn()
	if err != nil {
		c.logger.Error("Health check failed to connect", "error", err)
		return false
	}

	if _, err := conn.HealthCheck(ctx); err != nil {
		c.logger.Error("Health check failed", "error", err)
		c.resetConn()
		return false
	}
	return true
}

// buildSearchFilter 构建向量检索过滤条件
func buildSearchFilter(filter memory.SearchFilter) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, 3)

	if filter.UserID != 0 {
		must = append(must, qdrant.NewMatchInt("user_id", filter.UserID))
	}
	if filter.ChatID != 0 {
		must = append(must, qdrant.NewMatchInt("chat_id", filter.ChatID))
	}
	if filter.Since > 0 {
		since := float64(filter.Since)
		must = append(must, qdrant.NewRange("timestamp", &qdrant.Range{
			Gte: &since,
		}))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// payloadString 从 payload 提取字符串值
func payloadString(payload map[string]*qdrant.Value, key string) string {
	if val, ok := payload[key]; ok && val != nil {
		return val.GetStringValue()
	}
	return ""
}

// payloadInt 从 payload 提取整数值
func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	val, ok := payload[key]
	if !ok || val == nil {
		return 0
	}
	if intVal := val.GetIntegerValue(); intVal != 0 {
		return intVal
	}
	if dblVal := val.GetDoubleValue(); dblVal != 0 {
		return int64(dblVal)
	}
	return 0
}
