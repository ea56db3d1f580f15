package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// DatabaseConfig 关系库配置
type DatabaseConfig struct {
	// Path SQLite 数据库文件路径，留空表示使用默认路径
	Path string `yaml:"path"`
}

// QdrantConfig 向量库配置
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize uint64 `yaml:"vector_size"`
}

// EmbeddingConfig Embedding API 配置
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// RetrievalConfig 上下文检索默认参数
type RetrievalConfig struct {
	// Limit 单次检索返回的最大消息数
	Limit int `yaml:"limit"`
	// TimeWindowMinutes 相似度检索的时间窗口（分钟），0 表示不限制
	TimeWindowMinutes int `yaml:"time_window_minutes"`
	// SimilarityThreshold 低于该相似度的命中被丢弃
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	// RecencyCount 最近消息来源的条数
	RecencyCount int `yaml:"recency_count"`
	// ImportanceFloor 重要消息来源的重要度下限
	ImportanceFloor int `yaml:"importance_floor"`
	// MaxContextTokens 组装上下文窗口的 Token 预算
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "messages",
			VectorSize: 1536,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			Limit:               5,
			TimeWindowMinutes:   30,
			SimilarityThreshold: 0.2,
			RecencyCount:        10,
			ImportanceFloor:     4,
			MaxContextTokens:    20000,
		},
	}
}

// Load 从 YAML 文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// defaultConfigPath 默认配置文件路径
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "memvault.yaml"
	}
	return filepath.Join(homeDir, ".memvault", "config.yaml")
}

// DefaultDBPath 默认数据库路径
// Windows: %USERPROFILE%\.memvault\memvault.db
// macOS/Linux: ~/.memvault/memvault.db
func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".memvault", "memvault.db"), nil
}

// NewDatabaseConfig 创建数据库配置
func NewDatabaseConfig(cfg *Config) *DatabaseConfig {
	return &cfg.Database
}

// NewQdrantConfig 创建向量库配置
func NewQdrantConfig(cfg *Config) *QdrantConfig {
	return &cfg.Qdrant
}

// NewEmbeddingConfig 创建 Embedding 配置
func NewEmbeddingConfig(cfg *Config) *EmbeddingConfig {
	return &cfg.Embedding
}

// NewRetrievalConfig 创建检索配置
func NewRetrievalConfig(cfg *Config) *RetrievalConfig {
	return &cfg.Retrieval
}
