package vector

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/domain/memory"
)

// ProviderSet 向量基础设施层 ProviderSet
var ProviderSet = wire.NewSet(
	NewClient,
	wire.Bind(new(memory.VectorIndex), new(*Client)),
)
