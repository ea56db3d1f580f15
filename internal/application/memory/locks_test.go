package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/backend/internal/domain/memory"
)

func TestLockTableSerializesSameConversation(t *testing.T) {
	locks := NewLockTable(time.Second)

	release, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)

	// 同会话的第二次获取被阻塞直到释放
	acquired := make(chan struct{})
	go func() {
		release2, err := locks.Acquire(context.Background(), 1, 100)
		assert.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after release")
	}
}

func TestLockTableIndependentConversations(t *testing.T) {
	locks := NewLockTable(time.Second)

	release1, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)
	defer release1()

	// 不同会话互不阻塞
	release2, err := locks.Acquire(context.Background(), 1, 200)
	require.NoError(t, err)
	release2()

	release3, err := locks.Acquire(context.Background(), 2, 100)
	require.NoError(t, err)
	release3()
}

func TestLockTableTimeout(t *testing.T) {
	locks := NewLockTable(50 * time.Millisecond)

	release, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)
	defer release()

	_, err = locks.Acquire(context.Background(), 1, 100)
	assert.ErrorIs(t, err, memory.ErrLockTimeout)
}

func TestLockTableContextCancellation(t *testing.T) {
	locks := NewLockTable(10 * time.Second)

	release, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.Acquire(ctx, 1, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockTableReleaseIsReentrant(t *testing.T) {
	locks := NewLockTable(time.Second)

	release, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)

	// 重复释放不会二次归还锁
	release()
	release()

	release2, err := locks.Acquire(context.Background(), 1, 100)
	require.NoError(t, err)
	release2()
}

func TestLockTableUnderContention(t *testing.T) {
	locks := NewLockTable(5 * time.Second)

	var inCritical int
	var maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), 9, 9)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "critical section must never be shared")
}
