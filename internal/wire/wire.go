//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"
	"github.com/memvault/backend/internal/application"
	"github.com/memvault/backend/internal/infrastructure"
	"github.com/memvault/backend/internal/infrastructure/config"
)

// InitializeApp 初始化应用（配置由调用方加载后传入）
func InitializeApp(cfg *config.Config) (*App, error) {
	wire.Build(
		// 按层组合 ProviderSet
		infrastructure.ProviderSet, // 基础设施层
		application.ProviderSet,    // 应用层
		NewApp,                     // 组合所有服务的应用结构
	)
	return nil, nil
}
