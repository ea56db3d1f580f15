package memory

import (
	"context"
	"sync"
	"time"

	"github.com/memvault/backend/internal/domain/memory"
)

// DefaultLockTimeout 会话锁获取的默认超时
const DefaultLockTimeout = 10 * time.Second

// conversationKey 会话锁的键
type conversationKey struct {
	userID int64
	chatID int64
}

// LockTable 按 (user_id, chat_id) 粒度的互斥锁表
// 同一会话内的写入被串行化，不相关会话完全并行。
// 锁条目按需创建且不回收；表的大小以活跃会话数为界。
type LockTable struct {
	mu      sync.Mutex
	locks   map[conversationKey]chan struct{}
	timeout time.Duration
}

// NewLockTable 创建锁表
func NewLockTable(timeout time.Duration) *LockTable {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LockTable{
		locks:   make(map[conversationKey]chan struct{}),
		timeout: timeout,
	}
}

// get 取得（必要时创建）某会话的锁通道
func (t *LockTable) get(userID, chatID int64) chan struct{} {
	key := conversationKey{userID: userID, chatID: chatID}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.locks[key]
	if !ok {
		// 容量为 1 的通道充当互斥量
		ch = make(chan struct{}, 1)
		t.locks[key] = ch
	}
	return ch
}

// Acquire 获取会话锁，超时返回 ErrLockTimeout
// 返回的 release 在所有退出路径上都必须被调用（defer）。
func (t *LockTable) Acquire(ctx context.Context, userID, chatID int64) (release func(), err error) {
	ch := t.get(userID, chatID)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, nil
	case <-timer.C:
		return nil, memory.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
