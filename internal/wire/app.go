package wire

import (
	"context"
	"database/sql"
	"log/slog"

	appMemory "github.com/memvault/backend/internal/application/memory"
	"github.com/memvault/backend/internal/infrastructure/embedding"
	applog "github.com/memvault/backend/internal/infrastructure/log"
	"github.com/memvault/backend/internal/infrastructure/vector"
)

// App 应用主结构，组合所有服务
type App struct {
	Coordinator *appMemory.Coordinator
	Retrieval   *appMemory.RetrievalEngine
	Context     *appMemory.ContextBuilder
	Diagnostic  *appMemory.DiagnosticService

	embeddingClient *embedding.Client
	vectorClient    *vector.Client
	db              *sql.DB
	logger          *slog.Logger
}

// NewApp 创建应用实例
func NewApp(
	coordinator *appMemory.Coordinator,
	retrieval *appMemory.RetrievalEngine,
	contextBuilder *appMemory.ContextBuilder,
	diagnostic *appMemory.DiagnosticService,
	embeddingClient *embedding.Client,
	vectorClient *vector.Client,
	db *sql.DB,
) *App {
	return &App{
		Coordinator:     coordinator,
		Retrieval:       retrieval,
		Context:         contextBuilder,
		Diagnostic:      diagnostic,
		embeddingClient: embeddingClient,
		vectorClient:    vectorClient,
		db:              db,
		logger:          applog.NewModuleLogger("app", "main"),
	}
}

// Start 启动应用
// 探测 Embedding 端点和向量库并确保集合存在；两侧都不可用时
// 也不阻止启动，消息仍可落账，后续由后台补齐收敛。
// 健康检查失败会丢弃向量库连接句柄，下次调用重新拨号。
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("Starting memvault application")

	if err := a.embeddingClient.TestConnection(ctx); err != nil {
		a.logger.Warn("embedding endpoint not reachable, new writes will stay pending",
			"error", err,
		)
	}

	if !a.vectorClient.HealthCheck(ctx) {
		a.logger.Warn("vector store unhealthy, writes will be backfilled later")
	} else if err := a.vectorClient.EnsureCollection(ctx); err != nil {
		a.logger.Warn("vector collection not ready, writes will be backfilled later",
			"error", err,
		)
	}

	a.logger.Info("Memvault application started")
	return nil
}

// Stop 停止应用并释放资源
func (a *App) Stop() error {
	a.logger.Info("Stopping memvault application")

	if err := a.vectorClient.Close(); err != nil {
		a.logger.Error("Failed to close vector client",
			"error", err,
		)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database connection",
				"error", err,
			)
			return err
		}
	}

	a.logger.Info("Memvault application stopped")
	return nil
}
