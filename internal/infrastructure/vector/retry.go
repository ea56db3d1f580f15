package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/memvault/backend/internal/domain/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy 远程调用重试策略
// 每次远程调用都经由 withRetry 包装，而不是在调用点内联重复。
type RetryPolicy struct {
	// MaxAttempts 总尝试次数（含首次调用）
	MaxAttempts uint64
	// BaseDelay 首次重试前的基础延迟
	BaseDelay time.Duration
	// Multiplier 延迟倍增系数
	Multiplier float64
	// MaxDelay 单次延迟上限
	MaxDelay time.Duration
	// Jitter 随机抖动系数（0-1）
	Jitter float64
	// Retryable 错误是否可重试的判定，nil 使用默认判定
	Retryable func(error) bool
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
		Jitter:      0.3,
		Retryable:   IsRetryable,
	}
}

// IsRetryable 默认的可重试错误判定
// gRPC 瞬态状态码和非 gRPC 的传输错误视为可重试，
// 其余状态码（如参数错误）重试没有意义。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Unknown:
			return true
		default:
			return false
		}
	}
	// 非 gRPC 错误视为传输层瞬态故障
	return true
}

// withRetry 用带抖动的指数退避执行一次远程调用
// 无论重试耗尽还是遇到不可重试错误，都以 ErrVectorStoreUnavailable
// 上抛，调用方永远不会看到原始传输错误。
func withRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func() error) error {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseDelay
	bo.Multiplier = policy.Multiplier
	bo.MaxInterval = policy.MaxDelay
	bo.RandomizationFactor = policy.Jitter
	bo.MaxElapsedTime = 0 // 尝试次数有界，不再按时间截断

	maxRetries := uint64(0)
	if policy.MaxAttempts > 1 {
		maxRetries = policy.MaxAttempts - 1
	}

	attempt := 0
	var lastErr error

	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("Vector store call failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err,
		)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))

	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		logger.Error("Vector store call failed after all attempts",
			"op", op,
			"attempts", attempt,
			"error", lastErr,
		)
		return fmt.Errorf("%s: %w: %v", op, memory.ErrVectorStoreUnavailable, lastErr)
	}
	return nil
}
