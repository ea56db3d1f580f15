package memory

import (
	"log/slog"
	"sort"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
	"github.com/memvault/backend/internal/infrastructure/log"
)

// ContextBuilder 上下文窗口组装器
// 把最近消息和相关上下文合并为一个按时间排序、
// 受 Token 预算约束的序列，供下游提示词构造使用。
type ContextBuilder struct {
	tokens memory.TokenCounter
	budget int
	logger *slog.Logger
}

// NewContextBuilder 创建上下文组装器
func NewContextBuilder(tokens memory.TokenCounter, cfg *config.RetrievalConfig) *ContextBuilder {
	return &ContextBuilder{
		tokens: tokens,
		budget: cfg.MaxContextTokens,
		logger: log.NewModuleLogger("memory", "context"),
	}
}

// BuildContextWindow 组装上下文窗口
// 相关上下文优先进入预算（语义命中更稀缺），其后填充最近消息；
// 输出按时间升序排列。budget <= 0 时使用配置默认值。
func (b *ContextBuilder) BuildContextWindow(recent, relevant []*memory.Message, budget int) []*memory.Message {
	if budget <= 0 {
		budget = b.budget
	}

	seen := make(map[int64]bool)
	used := 0
	window := make([]*memory.Message, 0, len(recent)+len(relevant))

	admit := func(msg *memory.Message) bool {
		if msg == nil || seen[msg.ID] {
			return true
		}
		cost := msg.TokenCount
		if cost == 0 {
			cost = b.tokens.CountTokens(msg.Content)
		}
		if used+cost > budget {
			return false
		}
		seen[msg.ID] = true
		used += cost
		window = append(window, msg)
		return true
	}

	for _, msg := range relevant {
		if !admit(msg) {
			break
		}
	}
	for _, msg := range recent {
		if !admit(msg) {
			break
		}
	}

	// 按时间升序输出，同刻按主键保证稳定
	sort.Slice(window, func(i, j int) bool {
		if window[i].Timestamp != window[j].Timestamp {
			return window[i].Timestamp < window[j].Timestamp
		}
		return window[i].ID < window[j].ID
	})

	b.logger.Debug("Context window assembled",
		"messages", len(window),
		"tokens_used", used,
		"token_budget", budget,
	)

	return window
}
