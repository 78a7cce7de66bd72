package service

import (
	"Storefront/internal/model"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/pkg/security"
	"context"
	log "log/slog"
	"strconv"
	"sync"
	"time"
)

// Connection 推送通道生命周期
type Connection interface {
	Channel
	Start(ctx context.Context, credential string) error
	Stop()
	UpdateCredential(credential string)
	OnStateChange(l dispatcher.Listener[model.StateChange]) func()
	Events() *dispatcher.Dispatcher[model.Event]
}

// SnapshotCache 会话快照的热启动缓存
type SnapshotCache interface {
	Load(ctx context.Context, owner string) ([]model.Conversation, error)
	Save(ctx context.Context, owner string, convs []model.Conversation) error
}

// Session 单个登录会话的同步引擎，显式 Init/Dispose
type Session struct {
	conn  Connection
	im    IMService
	cache SnapshotCache

	mu         sync.Mutex
	credential string
	owner      string
	started    bool
	closed     bool
	unsubs     []func()
}

// NewSession cache 可为 nil
func NewSession(conn Connection, im IMService, cache SnapshotCache, credential string) *Session {
	return &Session{
		conn:       conn,
		im:         im,
		cache:      cache,
		credential: credential,
	}
}

// Init 恢复快照、挂载事件监听并建立推送连接
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrSessionStarted
	}

	s.owner = credentialOwner(s.credential)
	s.warmStart(ctx)

	s.unsubs = append(s.unsubs,
		s.conn.Events().Register(s.im.HandleEvent),
		s.conn.OnStateChange(s.onStateChange),
	)
	if err := s.conn.Start(ctx, s.credential); err != nil {
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.unsubs = nil
		return err
	}
	s.started = true
	s.im.RefreshInBackground()
	log.InfoContext(ctx, "session initialized", "owner", s.owner)
	return nil
}

// Dispose 停止连接与后台任务并保存快照，可重复调用
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	started := s.started
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if started {
		s.conn.Stop()
	}
	s.im.Close()
	s.persist()
	log.Info("session disposed", "owner", s.owner)
}

// UpdateCredential 新凭据在下一次（重）连接时生效
func (s *Session) UpdateCredential(credential string) {
	s.mu.Lock()
	s.credential = credential
	s.mu.Unlock()
	s.conn.UpdateCredential(credential)
}

func (s *Session) State() model.ConnectionState {
	return s.conn.State()
}

func (s *Session) OnStateChange(l dispatcher.Listener[model.StateChange]) func() {
	return s.conn.OnStateChange(l)
}

func (s *Session) IM() IMService {
	return s.im
}

// OpenConversation 打开会话视图，返回的视图关闭时释放其监听器
func (s *Session) OpenConversation(ctx context.Context, id int64) (*ConversationView, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if err := s.im.OpenConversation(ctx, id); err != nil {
		return nil, err
	}
	return &ConversationView{id: id, im: s.im}, nil
}

// onStateChange 连接建立后显式重新加入频道，并补拉断线期间的会话列表
func (s *Session) onStateChange(ctx context.Context, change model.StateChange) error {
	switch change.To {
	case model.Connected:
		s.im.Rejoin(ctx)
		if change.From == model.Reconnecting {
			s.im.RefreshInBackground()
		}
	case model.Disconnected:
		if change.Cause != nil {
			log.WarnContext(ctx, "push channel disconnected", "err", change.Cause)
		}
	}
	return nil
}

func (s *Session) warmStart(ctx context.Context) {
	if s.cache == nil || s.owner == "" {
		return
	}
	convs, err := s.cache.Load(ctx, s.owner)
	if err != nil {
		log.WarnContext(ctx, "load conversation snapshot failed", "owner", s.owner, "err", err)
		return
	}
	for i := range convs {
		convs[i].IsActive = false
		kept := convs[i].Messages[:0]
		for _, m := range convs[i].Messages {
			if m.ID != 0 {
				kept = append(kept, m)
			}
		}
		convs[i].Messages = kept
	}
	s.im.IngestConversations(ctx, convs)
	log.InfoContext(ctx, "conversation snapshot restored", "owner", s.owner, "count", len(convs))
}

func (s *Session) persist() {
	if s.cache == nil || s.owner == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	convs := s.im.Conversations()
	kept := convs[:0]
	for _, c := range convs {
		if !c.IsPlaceholder() {
			kept = append(kept, c)
		}
	}
	if err := s.cache.Save(ctx, s.owner, kept); err != nil {
		log.WarnContext(ctx, "save conversation snapshot failed", "owner", s.owner, "err", err)
	}
}

// credentialOwner 凭据为 JWT 时取用户 ID 作为快照归属，否则不启用缓存
func credentialOwner(credential string) string {
	claims, err := security.InspectCredential(credential)
	if err != nil || claims.UserID == 0 {
		return ""
	}
	return strconv.FormatUint(claims.UserID, 10)
}

// ConversationView 单个会话视图，持有视图级监听器
type ConversationView struct {
	id     int64
	im     IMService
	mu     sync.Mutex
	unsubs []func()
	closed bool
}

func (v *ConversationView) ID() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resolveLocked()
	return v.id
}

// Subscribe 仅接收当前视图会话的变更（会话被提升时跟随新 id）
func (v *ConversationView) Subscribe(l dispatcher.Listener[model.ConversationChange]) func() {
	unsub := v.im.Subscribe(func(ctx context.Context, change model.ConversationChange) error {
		v.mu.Lock()
		v.resolveLocked()
		id := v.id
		v.mu.Unlock()
		if change.ConversationID != id {
			return nil
		}
		return l(ctx, change)
	})
	v.mu.Lock()
	v.unsubs = append(v.unsubs, unsub)
	v.mu.Unlock()
	return unsub
}

// Current 视图对应的会话
func (v *ConversationView) Current() (model.Conversation, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resolveLocked()
	return v.im.Conversation(v.id)
}

// Close 离开会话并注销视图级监听器
func (v *ConversationView) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.resolveLocked()
	unsubs := v.unsubs
	v.unsubs = nil
	id := v.id
	v.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return v.im.CloseConversation(ctx, id)
}

// resolveLocked 占位会话被提升后跟随到同一对方的真实会话
func (v *ConversationView) resolveLocked() {
	if !model.IsPlaceholderID(v.id) {
		return
	}
	if _, ok := v.im.Conversation(v.id); ok {
		return
	}
	if c, ok := v.im.ConversationByCounterparty(-v.id); ok {
		v.id = c.ID
	}
}
