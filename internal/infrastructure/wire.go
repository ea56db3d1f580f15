package infrastructure

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/infrastructure/config"
	"github.com/memvault/backend/internal/infrastructure/embedding"
	"github.com/memvault/backend/internal/infrastructure/storage"
	"github.com/memvault/backend/internal/infrastructure/token"
	"github.com/memvault/backend/internal/infrastructure/vector"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	vector.ProviderSet,
	embedding.ProviderSet,
	token.ProviderSet,
)
