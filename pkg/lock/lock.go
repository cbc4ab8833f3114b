// Package lock 提供按键（文档 ID）互斥的锁，保证同一文档同一时刻最多只有一个变更在进行。
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired 表示在上下文结束前没能拿到锁。
var ErrNotAcquired = errors.New("lock not acquired")

// Locker 按键加锁，返回的 unlock 必须且只能调用一次。
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker 是进程内的按键互斥锁，适用于单实例部署与测试。
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建一个进程内锁。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Lock 阻塞直到拿到 key 对应的锁或 ctx 结束。
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *LocalLocker) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
