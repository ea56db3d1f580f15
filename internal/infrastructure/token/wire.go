package token

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/domain/memory"
)

// ProviderSet Token 计数基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	NewEstimator,
	wire.Bind(new(memory.TokenCounter), new(*Estimator)),
)
