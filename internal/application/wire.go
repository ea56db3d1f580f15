package application

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/application/memory"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	memory.ProviderSet,
)
