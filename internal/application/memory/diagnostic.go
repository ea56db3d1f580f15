package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/log"
)

// reportSampleLimit 报告中抽样消息的上限
const reportSampleLimit = 5

// ScanOptions 完整性扫描选项
type ScanOptions struct {
	// UserID / ChatID 限定扫描范围，0 表示不限定
	UserID int64
	ChatID int64
	// IncludeSamples 是否在报告中附带最近消息抽样
	IncludeSamples bool
}

// DiagnosticService 完整性诊断与修复服务
// 扫描是只读的、不取任何锁，可在运行中的系统上随时执行；
// 读到的状态可能落在"关系行已写、向量待补齐"的窗口内，
// 这是有界的陈旧读，不是缺陷。
type DiagnosticService struct {
	repo        memory.MessageRepository
	index       memory.VectorIndex
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewDiagnosticService 创建诊断服务
func NewDiagnosticService(
	repo memory.MessageRepository,
	index memory.VectorIndex,
	coordinator *Coordinator,
) *DiagnosticService {
	return &DiagnosticService{
		repo:        repo,
		index:       index,
		coordinator: coordinator,
		logger:      log.NewModuleLogger("memory", "diagnostic"),
	}
}

// Scan 独立清点两个存储并计算分歧
func (s *DiagnosticService) Scan(ctx context.Context, opts ScanOptions) (*memory.IntegrityReport, error) {
	filter := memory.Filter{UserID: opts.UserID, ChatID: opts.ChatID}

	report := &memory.IntegrityReport{
		GeneratedAt: time.Now().Unix(),
		Filter:      filter,
	}

	// 1. 关系侧全量视图
	rows, err := s.repo.FetchMany(filter, memory.OrderTimestampDesc, 0)
	if err != nil {
		return nil, err
	}
	report.RelationalCount = int64(len(rows))

	linkedHash := make(map[string]string, len(rows)) // embedding_id -> content hash
	var unlinked []int64
	for _, row := range rows {
		if row.HasEmbedding() {
			linkedHash[row.EmbeddingID] = memory.HashContent(row.Content)
		} else {
			unlinked = append(unlinked, row.ID)
		}
	}

	// 2. 向量侧全量视图
	records, err := s.index.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	vectorIDs := make(map[string]bool, len(records))
	var vectorCount int64
	for _, record := range records {
		if !matchesScan(record, opts) {
			continue
		}
		vectorCount++
		vectorIDs[record.EmbeddingID] = true

		hash, linked := linkedHash[record.EmbeddingID]
		switch {
		case !linked:
			report.OrphanVectors = append(report.OrphanVectors, record.EmbeddingID)
		case record.ContentHash != "" && record.ContentHash != hash:
			report.StaleVectors = append(report.StaleVectors, record.EmbeddingID)
		}
	}
	report.VectorCount = vectorCount

	// 3. 对称差的另一侧：链接指向的向量已不存在的行
	report.MissingEmbedding = unlinked
	for _, row := range rows {
		if row.HasEmbedding() && !vectorIDs[row.EmbeddingID] {
			report.MissingEmbedding = append(report.MissingEmbedding, row.ID)
		}
	}

	// 4. 重复链接（唯一索引之外混入的数据，出现即缺陷信号）
	duplicates, err := s.repo.DuplicateEmbeddingIDs(opts.UserID, opts.ChatID)
	if err != nil {
		return nil, err
	}
	report.DuplicateEmbeddingIDs = duplicates

	// 5. 可选抽样
	if opts.IncludeSamples && len(rows) > 0 {
		n := reportSampleLimit
		if n > len(rows) {
			n = len(rows)
		}
		report.Samples = rows[:n]
	}

	s.logger.Info("Integrity scan completed",
		"relational_count", report.RelationalCount,
		"vector_count", report.VectorCount,
		"divergence", report.DivergenceCount(),
	)

	return report, nil
}

// Fix 根据报告执行修复并复扫确认收敛
// report 为 nil 时先做一次全量扫描。返回修复前后的两份报告；
// 调用方通过 after.Diverged() 判断是否收敛。
func (s *DiagnosticService) Fix(ctx context.Context, report *memory.IntegrityReport, force bool) (before, after *memory.IntegrityReport, err error) {
	if report == nil {
		report, err = s.Scan(ctx, ScanOptions{})
		if err != nil {
			return nil, nil, err
		}
	}

	opts := ScanOptions{
		UserID: report.Filter.UserID,
		ChatID: report.Filter.ChatID,
	}

	if err := s.coordinator.RepairDivergence(ctx, report, force); err != nil {
		return report, nil, err
	}

	after, err = s.Scan(ctx, opts)
	if err != nil {
		return report, nil, err
	}

	if after.Diverged() {
		s.logger.Warn("Divergence remains after repair",
			"remaining", after.DivergenceCount(),
		)
	} else {
		s.logger.Info("Stores converged after repair")
	}

	return report, after, nil
}

// CategoryStats 按分类统计消息（操作员可观测界面）
func (s *DiagnosticService) CategoryStats(userID, chatID int64) ([]memory.CategoryStat, error) {
	return s.repo.CountByCategory(userID, chatID)
}

// matchesScan 向量记录是否落在扫描范围内
func matchesScan(record memory.VectorRecord, opts ScanOptions) bool {
	if opts.UserID != 0 && record.UserID != opts.UserID {
		return false
	}
	if opts.ChatID != 0 && record.ChatID != opts.ChatID {
		return false
	}
	return true
}
