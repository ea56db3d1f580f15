package embedding

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/domain/memory"
)

// ProviderSet Embedding 基础设施层 ProviderSet
var ProviderSet = wire.NewSet(
	NewClient,
	wire.Bind(new(memory.Embedder), new(*Client)),
)
