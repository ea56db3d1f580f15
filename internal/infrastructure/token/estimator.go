package token

import (
	"sync"

	"github.com/memvault/backend/internal/domain/memory"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 在包初始化时设置离线加载器
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// 确保 Estimator 实现了 memory.TokenCounter 接口
var _ memory.TokenCounter = (*Estimator)(nil)

// Estimator 使用 tiktoken 精确估算 Token 数量
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	estimatorInstance *Estimator
	estimatorOnce     sync.Once
	estimatorErr      error
)

// NewEstimator 获取 Estimator
// 编码文件只加载一次，之后复用同一实例
func NewEstimator() (*Estimator, error) {
	estimatorOnce.Do(func() {
		// 使用 cl100k_base 编码（GPT-4、Claude 等模型兼容）
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			estimatorErr = err
			return
		}
		estimatorInstance = &Estimator{
			encoding: enc,
		}
	})

	if estimatorErr != nil {
		return nil, estimatorErr
	}
	return estimatorInstance, nil
}

// CountTokens 计算文本的 Token 数量
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tokens := e.encoding.Encode(text, nil, nil)
	return len(tokens)
}
