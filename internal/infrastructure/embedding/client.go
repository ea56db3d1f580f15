package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
	"github.com/memvault/backend/internal/infrastructure/log"
)

// 确保 Client 实现了 memory.Embedder 接口
var _ memory.Embedder = (*Client)(nil)

// Client Embedding API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建 Embedding 客户端
func NewClient(cfg *config.EmbeddingConfig) *Client {
	// 规范化 baseURL：移除末尾斜杠
	normalizedURL := strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		baseURL: normalizedURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.NewModuleLogger("embedding", "client"),
	}
}

// buildEmbeddingURL 构建 Embedding API URL
// 支持多种输入格式，智能拼接 /v1/embeddings 路径
func buildEmbeddingURL(baseURL string) string {
	if strings.Contains(baseURL, "/v1/embeddings") {
		return baseURL
	}
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL + "/embeddings"
	}
	if strings.HasSuffix(baseURL, "/v1/") {
		return baseURL + "embeddings"
	}
	return fmt.Sprintf("%s/v1/embeddings", baseURL)
}

// embeddingRequest Embedding 请求
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse Embedding 响应
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedText 向量化单条文本
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("invalid embedding result")
	}
	return vectors[0], nil
}

// EmbedTexts 批量向量化文本
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	// OpenAI embeddings API 批量限制：每次最多 2048 个文本
	const maxBatchSize = 2048

	if len(texts) <= maxBatchSize {
		return c.embedBatch(ctx, texts)
	}

	c.logger.Info("Splitting texts into batches",
		"total_texts", len(texts),
		"batch_limit", maxBatchSize,
	)

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", i, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// embedBatch 处理单个批次
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model: c.model,
		Input: texts,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := buildEmbeddingURL(c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	c.logger.Debug("Sending embedding request",
		"url", url,
		"batch_size", len(texts),
		"model", c.model,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("Embedding API returned error",
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vectors := make([][]float32, len(embeddingResp.Data))
	for _, data := range embeddingResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

// GetVectorDimension 获取向量维度（通过测试请求）
func (c *Client) GetVectorDimension(ctx context.Context) (int, error) {
	vector, err := c.EmbedText(ctx, "test")
	if err != nil {
		return 0, err
	}
	return len(vector), nil
}

// TestConnection 测试连接
func (c *Client) TestConnection(ctx context.Context) error {
	c.logger.Info("Testing embedding API connection",
		"base_url", c.baseURL,
		"model", c.model,
	)

	dimension, err := c.GetVectorDimension(ctx)
	if err != nil {
		c.logger.Error("Embedding API connection test failed", "error", err)
		return err
	}

	c.logger.Info("Embedding API connection test successful",
		"vector_dimension", dimension,
	)
	return nil
}
