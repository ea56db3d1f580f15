package config

import "github.com/google/wire"

// ProviderSet 配置基础设施 ProviderSet
// *Config 本体由调用方加载后作为注入器入参传入
var ProviderSet = wire.NewSet(
	NewDatabaseConfig,
	NewQdrantConfig,
	NewEmbeddingConfig,
	NewRetrievalConfig,
)
