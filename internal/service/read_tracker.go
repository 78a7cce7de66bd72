package service

import (
	"Storefront/internal/model"
	"Storefront/internal/pkg/consts"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/pkg/logger"
	"Storefront/internal/repository"
	"context"
	log "log/slog"
	"sync"
	"time"
)

type readState struct {
	timer *time.Timer
	gen   uint64
}

// ReadTracker 为正在查看的会话发送已读回执。同一次打开内的多次触发在防抖窗口内合并为一次，
// 投递失败只记录日志不重试
type ReadTracker struct {
	repo     repository.ConversationRepo
	channel  Channel
	remote   RemoteAPI
	changes  *dispatcher.Dispatcher[model.ConversationChange]
	debounce time.Duration

	mu     sync.Mutex
	open   map[int64]*readState
	closed bool
	wg     sync.WaitGroup
}

// NewReadTracker remote 为 nil 时只通过推送通道发送回执
func NewReadTracker(repo repository.ConversationRepo, channel Channel, remote RemoteAPI,
	changes *dispatcher.Dispatcher[model.ConversationChange], debounce time.Duration) *ReadTracker {
	return &ReadTracker{
		repo:     repo,
		channel:  channel,
		remote:   remote,
		changes:  changes,
		debounce: debounce,
		open:     make(map[int64]*readState),
	}
}

// OnConversationOpened 会话进入激活状态
func (t *ReadTracker) OnConversationOpened(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	st, ok := t.open[id]
	if !ok {
		st = &readState{}
		t.open[id] = st
	}
	t.scheduleLocked(id, st)
}

// OnConversationClosed 取消尚未触发的回执
func (t *ReadTracker) OnConversationClosed(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.open[id]
	if !ok {
		return
	}
	t.stopLocked(st)
	delete(t.open, id)
}

// Touch 激活会话收到新消息，重置防抖计时。首个窗口触发后的新消息会在同一次打开内再发一次回执
func (t *ReadTracker) Touch(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if st, ok := t.open[id]; ok {
		t.scheduleLocked(id, st)
	}
}

// Rebind 占位会话被提升后，回执跟随到真实会话 id
func (t *ReadTracker) Rebind(from, to int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.open[from]
	if !ok || t.closed {
		return
	}
	t.stopLocked(st)
	delete(t.open, from)
	next, ok := t.open[to]
	if !ok {
		next = &readState{}
		t.open[to] = next
	}
	t.scheduleLocked(to, next)
}

// Close 停止所有计时器并等待进行中的回执结束
func (t *ReadTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, st := range t.open {
		t.stopLocked(st)
		delete(t.open, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *ReadTracker) scheduleLocked(id int64, st *readState) {
	t.stopLocked(st)
	st.gen++
	gen := st.gen
	t.wg.Add(1)
	st.timer = time.AfterFunc(t.debounce, func() {
		defer t.wg.Done()
		t.fire(id, st, gen)
	})
}

func (t *ReadTracker) stopLocked(st *readState) {
	if st.timer != nil && st.timer.Stop() {
		t.wg.Done()
	}
	st.timer = nil
}

func (t *ReadTracker) fire(id int64, st *readState, gen uint64) {
	t.mu.Lock()
	if t.closed || t.open[id] != st || st.gen != gen {
		t.mu.Unlock()
		return
	}
	st.timer = nil
	t.mu.Unlock()

	var changed bool
	t.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		snap, changed = snap.MarkRead(id)
		return snap
	})
	if !changed {
		return
	}

	ctx := logger.WithTrace(context.Background(), consts.TracePrefixRead)
	if t.changes != nil {
		t.changes.Dispatch(ctx, model.ConversationChange{ConversationID: id})
	}
	if err := t.deliver(ctx, id); err != nil {
		log.WarnContext(ctx, "read receipt not delivered", "conversation_id", id, "err", err)
	}
}

// deliver 已连接时走推送通道，否则回退到 REST
func (t *ReadTracker) deliver(ctx context.Context, id int64) error {
	if model.IsPlaceholderID(id) {
		return nil
	}
	if t.channel != nil && t.channel.State() == model.Connected {
		return t.channel.Invoke(ctx, model.MarkAsReadCommand(id))
	}
	if t.remote != nil {
		return t.remote.MarkAsRead(ctx, id)
	}
	return ErrNotConnected
}
