package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 消息不存在
	ErrNotFound = errors.New("message not found")
	// ErrVectorStoreUnavailable 向量库重试耗尽后仍不可用
	// 写路径和读路径都对它降级处理，不会致命
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	// ErrDivergenceDetected 两个存储之间存在分歧
	ErrDivergenceDetected = errors.New("divergence detected between stores")
	// ErrDuplicateEmbeddingID embedding_id 唯一性被破坏，属于数据完整性缺陷
	ErrDuplicateEmbeddingID = errors.New("duplicate embedding id")
	// ErrLockTimeout 会话锁获取超时
	ErrLockTimeout = errors.New("conversation lock acquire timeout")
	// ErrInvalidDraft 草稿字段不合法
	ErrInvalidDraft = errors.New("invalid message draft")
)

// StorageError 关系库写入被底层介质拒绝
// 关系库是可信来源，这类错误对调用方总是致命的。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError 包装一个关系库错误
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError 判断错误链中是否有 StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
