package realtime

import (
	"Storefront/internal/model"
	"Storefront/internal/pkg/consts"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/pkg/logger"
	"Storefront/internal/pkg/security"
	"context"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	ErrNotConnected   = errors.New("push channel not connected")
	ErrAlreadyStarted = errors.New("connection manager already started")
)

// CredentialFunc 每次（重）连接前调用以取得凭据
type CredentialFunc func(ctx context.Context) (string, error)

// Options 连接管理器依赖
type Options struct {
	Endpoint     string
	Dialer       Dialer
	Events       *dispatcher.Dispatcher[model.Event]
	Credential   CredentialFunc // 为空时使用 Start/UpdateCredential 设置的凭据
	WriteTimeout time.Duration
	Wait         func(ctx context.Context, d time.Duration) error // 重连等待，测试中替换
}

// Manager 推送通道生命周期：连接、按固定间隔自动重连、状态通知、命令发送
type Manager struct {
	endpoint     string
	dialer       Dialer
	events       *dispatcher.Dispatcher[model.Event]
	states       *dispatcher.Dispatcher[model.StateChange]
	credentialFn CredentialFunc
	writeTimeout time.Duration
	wait         func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	fsm        machine
	credential string
	conn       Conn
	cancel     context.CancelFunc
	done       chan struct{}

	writeMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		endpoint:     opts.Endpoint,
		dialer:       opts.Dialer,
		events:       opts.Events,
		states:       dispatcher.New[model.StateChange]("connection-state"),
		credentialFn: opts.Credential,
		writeTimeout: opts.WriteTimeout,
		wait:         opts.Wait,
	}
	if m.events == nil {
		m.events = dispatcher.New[model.Event]("channel-events")
	}
	if m.wait == nil {
		m.wait = sleepContext
	}
	return m
}

// Start 开始连接，失败不会返回给调用方而是进入重连流程
func (m *Manager) Start(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.credential = credential
	runCtx, cancel := context.WithCancel(logger.WithTrace(ctx, consts.TracePrefixSession))
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	change, changed := m.transitionLocked(nil, triggerStart, nil)
	m.mu.Unlock()

	if changed {
		m.emit(change)
	}
	go m.run(runCtx, done)
	return nil
}

// Stop 任意状态下均可调用；取消等待中的重连并关闭连接，返回时后台循环已退出
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done = nil, nil
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.conn = nil
	change, changed := m.transitionLocked(nil, triggerStop, nil)
	m.mu.Unlock()
	if changed {
		m.emit(change)
	}
}

// UpdateCredential 不断开现有连接，新凭据在下一次（重）连接时生效
func (m *Manager) UpdateCredential(credential string) {
	m.mu.Lock()
	m.credential = credential
	m.mu.Unlock()
}

func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.state
}

// OnStateChange 订阅状态迁移，返回取消函数
func (m *Manager) OnStateChange(l dispatcher.Listener[model.StateChange]) func() {
	return m.states.Register(l)
}

// Events 入站事件分发器
func (m *Manager) Events() *dispatcher.Dispatcher[model.Event] {
	return m.events
}

// Invoke 发送出站命令，未连接时返回 ErrNotConnected
func (m *Manager) Invoke(ctx context.Context, cmd model.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn, state := m.conn, m.fsm.state
	m.mu.Unlock()
	if conn == nil || state != model.Connected {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "invoke %s", cmd.Type)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer m.finish(ctx, done)

	for {
		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			st := m.transition(ctx, triggerFailed, err)
			log.WarnContext(ctx, "push channel connect failed",
				"state", st.state.String(),
				"attempt", st.attempt,
				"err", err)
			if !m.sleep(ctx, st.delay()) {
				return
			}
			m.transition(ctx, triggerRetry, nil)
			continue
		}

		if !m.attach(ctx, conn) {
			_ = conn.Close()
			return
		}
		log.InfoContext(ctx, "push channel connected", "endpoint", m.endpoint)

		err = m.readLoop(ctx, conn)
		m.detach(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		st := m.transition(ctx, triggerLost, err)
		log.WarnContext(ctx, "push channel lost, reconnecting", "err", err)
		if !m.sleep(ctx, st.delay()) {
			return
		}
	}
}

// finish 父 ctx 结束（而非 Stop）导致退出时，由后台循环自行回到 Disconnected
func (m *Manager) finish(ctx context.Context, done chan struct{}) {
	close(done)

	m.mu.Lock()
	if m.done != done {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel, m.done, m.conn = nil, nil, nil
	change, changed := m.transitionLocked(nil, triggerStop, ctx.Err())
	m.mu.Unlock()
	if changed {
		m.emit(change)
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	credential, err := m.Credential(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve credential")
	}

	header := http.Header{}
	if credential != "" {
		if claims, err := security.InspectCredential(credential); err == nil && claims.Expired(time.Now()) {
			log.WarnContext(ctx, "credential expired, connecting anyway", "user_id", claims.UserID)
		}
		header.Set("Authorization", "Bearer "+strings.TrimPrefix(credential, "Bearer "))
	}
	return m.dialer.Dial(ctx, m.endpoint, header)
}

// Credential 当前凭据，REST 客户端与连接共用
func (m *Manager) Credential(ctx context.Context) (string, error) {
	if m.credentialFn != nil {
		return m.credentialFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, nil
}

func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	change, changed := m.transitionLocked(ctx, triggerConnected, nil)
	m.mu.Unlock()
	if changed {
		m.emit(change)
	}
	return true
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

// readLoop 按到达顺序同步分发，畸形帧丢弃不影响通道
func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			log.WarnContext(ctx, "dropping malformed event", "err", err, "bytes", len(data))
			continue
		}
		m.events.Dispatch(ctx, ev)
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	return m.wait(ctx, d) == nil && ctx.Err() == nil
}

func (m *Manager) transition(ctx context.Context, t trigger, cause error) machine {
	m.mu.Lock()
	change, changed := m.transitionLocked(ctx, t, cause)
	st := m.fsm
	m.mu.Unlock()
	if changed {
		m.emit(change)
	}
	return st
}

// transitionLocked ctx 已取消时丢弃迁移，避免 Stop 之后的迟到状态
func (m *Manager) transitionLocked(ctx context.Context, t trigger, cause error) (model.StateChange, bool) {
	if ctx != nil && ctx.Err() != nil {
		return model.StateChange{}, false
	}
	next, err := m.fsm.next(t)
	if err != nil {
		log.Debug("ignored connection transition", "err", err)
		return model.StateChange{}, false
	}
	prev := m.fsm
	m.fsm = next
	if prev.state == next.state {
		return model.StateChange{}, false
	}
	return model.StateChange{From: prev.state, To: next.state, Attempt: next.attempt, Cause: cause}, true
}

func (m *Manager) emit(change model.StateChange) {
	m.states.Dispatch(context.Background(), change)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
