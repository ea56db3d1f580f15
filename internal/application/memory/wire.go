package memory

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/domain/memory"
)

// ProvideClassifier 提供写入路径使用的分类器
func ProvideClassifier() memory.Classifier {
	return memory.DefaultClassifier
}

// ProviderSet 记忆应用层 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideClassifier,
	NewCoordinator,
	NewRetrievalEngine,
	NewContextBuilder,
	NewDiagnosticService,
)
