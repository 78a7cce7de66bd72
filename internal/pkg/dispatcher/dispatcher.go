package dispatcher

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
)

// Listener 事件监听器，返回的 error 只记录日志，不影响其他监听器
type Listener[T any] func(ctx context.Context, event T) error

type entry[T any] struct {
	id       uint64
	listener Listener[T]
}

// Dispatcher 按注册顺序同步分发事件，单个监听器的 panic 或 error 被隔离
type Dispatcher[T any] struct {
	name    string
	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

func New[T any](name string) *Dispatcher[T] {
	return &Dispatcher[T]{name: name}
}

// Register 注册监听器，返回可重复调用的取消函数
func (d *Dispatcher[T]) Register(l Listener[T]) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.entries = append(d.entries, entry[T]{id: id, listener: l})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher[T]) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.entries {
		if e.id == id {
			next := make([]entry[T], 0, len(d.entries)-1)
			next = append(next, d.entries[:i]...)
			d.entries = append(next, d.entries[i+1:]...)
			return
		}
	}
}

// Len 当前监听器数量
func (d *Dispatcher[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Dispatch 向分发开始时已注册的监听器投递事件，返回失败的监听器数量。
// 分发过程中新注册的监听器不会收到本次事件
func (d *Dispatcher[T]) Dispatch(ctx context.Context, event T) int {
	d.mu.RLock()
	targets := d.entries
	d.mu.RUnlock()

	failed := 0
	for _, e := range targets {
		if err := d.invoke(ctx, e.listener, event); err != nil {
			failed++
			log.ErrorContext(ctx, "listener failed",
				"dispatcher", d.name,
				"listener_id", e.id,
				"err", err)
		}
	}
	return failed
}

func (d *Dispatcher[T]) invoke(ctx context.Context, l Listener[T], event T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, event)
}
