package service

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"Storefront/internal/pkg/consts"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/pkg/logger"
	"Storefront/internal/pkg/util"
	"Storefront/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Channel 推送通道的出站能力
type Channel interface {
	Invoke(ctx context.Context, cmd model.Command) error
	State() model.ConnectionState
}

// RemoteAPI REST 协作方
type RemoteAPI interface {
	ListConversations(ctx context.Context, page int) (*dto.ConversationPageDTO, error)
	GetHistory(ctx context.Context, conversationID, before int64) (*dto.MessagePageDTO, error)
	SendMessage(ctx context.Context, body *dto.SendMessageReq) (*dto.SendMessageResp, error)
	MarkAsRead(ctx context.Context, conversationID int64) error
}

// IMService 会话同步：合并 REST 快照、推送事件与本地乐观发送
type IMService interface {
	IngestConversations(ctx context.Context, items []model.Conversation)
	IngestHistory(ctx context.Context, conversationID int64, msgs []model.Message) error
	HandleEvent(ctx context.Context, ev model.Event) error

	StartConversation(counterpartyID int64, displayName string) (model.Conversation, error)
	SendMessage(ctx context.Context, conversationID int64, text string, attachments []model.Attachment, contextProductID *int64) (model.PendingSend, error)
	RetrySend(ctx context.Context, localID string) (model.PendingSend, error)
	DiscardSend(localID string) error
	PendingSends() []model.PendingSend

	OpenConversation(ctx context.Context, id int64) error
	CloseConversation(ctx context.Context, id int64) error
	ActiveConversation() (int64, bool)
	Rejoin(ctx context.Context)

	RefreshConversations(ctx context.Context) error
	RefreshInBackground()
	LoadHistory(ctx context.Context, conversationID, before int64) (bool, error)

	Conversations() []model.Conversation
	Conversation(id int64) (model.Conversation, bool)
	ConversationByCounterparty(counterpartyID int64) (model.Conversation, bool)
	TotalUnread() int
	Subscribe(l dispatcher.Listener[model.ConversationChange]) func()
	Close()
}

type imServiceImpl struct {
	repo     repository.ConversationRepo
	channel  Channel
	remote   RemoteAPI
	reads    *ReadTracker
	changes  *dispatcher.Dispatcher[model.ConversationChange]
	refresh  singleflight.Group
	maxPages int
	now      func() time.Time

	mu      sync.Mutex
	active  int64
	joined  map[int64]struct{}
	pending map[string]*model.PendingSend
	closed  bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// NewIMService remote 可为 nil，此时发送、刷新、拉取历史返回 ErrRemoteUnavailable
func NewIMService(repo repository.ConversationRepo, channel Channel, remote RemoteAPI, reads *ReadTracker,
	changes *dispatcher.Dispatcher[model.ConversationChange], maxPages int) IMService {
	if maxPages <= 0 {
		maxPages = 1
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &imServiceImpl{
		repo:     repo,
		channel:  channel,
		remote:   remote,
		reads:    reads,
		changes:  changes,
		maxPages: maxPages,
		now:      time.Now,
		joined:   make(map[int64]struct{}),
		pending:  make(map[string]*model.PendingSend),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// IngestConversations 合并会话列表快照
func (s *imServiceImpl) IngestConversations(ctx context.Context, items []model.Conversation) {
	var touched []int64
	var promoted [][2]int64

	s.mu.Lock()
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		for _, item := range items {
			if item.ID <= 0 {
				log.WarnContext(ctx, "skip listing entry without server id", "counterparty_id", item.CounterpartyID)
				continue
			}
			var folded int64
			snap, folded = mergeListing(snap, item)
			if folded != 0 {
				promoted = append(promoted, [2]int64{folded, item.ID})
			}
			touched = append(touched, item.ID)
		}
		return snap
	})
	joins := s.rebindLocked(promoted)
	s.mu.Unlock()

	s.join(ctx, joins...)
	s.rebindReads(promoted)
	s.emit(ctx, promoted, touched...)
}

// IngestHistory 合并一页历史消息，不影响未读计数
func (s *imServiceImpl) IngestHistory(ctx context.Context, conversationID int64, msgs []model.Message) error {
	found := false
	appended := 0
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		if _, ok := snap.Get(conversationID); !ok {
			return snap
		}
		found = true
		for _, m := range msgs {
			if !m.SenderRole.Valid() {
				log.WarnContext(ctx, "drop history message with unknown sender role",
					"conversation_id", conversationID, "message_id", m.ID, "sender_role", m.SenderRole)
				continue
			}
			var ok bool
			if snap, ok = snap.AppendMessage(conversationID, m); ok {
				appended++
			}
		}
		return snap
	})
	if !found {
		return ErrConversationNotFound
	}
	if appended > 0 {
		s.emit(ctx, nil, conversationID)
	}
	return nil
}

// HandleEvent 推送事件入口，注册到事件分发器
func (s *imServiceImpl) HandleEvent(ctx context.Context, ev model.Event) error {
	switch ev.Type {
	case model.EventMessageReceived:
		if ev.Message == nil {
			log.WarnContext(ctx, "drop MessageReceived without payload")
			return nil
		}
		s.onMessage(ctx, *ev.Message)
	case model.EventNotificationMarkedAsRead:
		var changed bool
		s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
			snap, changed = snap.MarkRead(ev.ConversationID)
			return snap
		})
		if changed {
			s.emit(ctx, nil, ev.ConversationID)
		}
	case model.EventServerError:
		log.WarnContext(ctx, "server error on push channel", "message", ev.Error)
	default:
		log.WarnContext(ctx, "drop unrecognized event", "type", ev.Type)
	}
	return nil
}

func (s *imServiceImpl) onMessage(ctx context.Context, m model.Message) {
	if !m.SenderRole.Valid() {
		log.WarnContext(ctx, "drop message with unknown sender role",
			"message_id", m.ID, "conversation_id", m.ConversationID, "sender_role", m.SenderRole)
		return
	}
	if m.ID == 0 || m.ConversationID <= 0 {
		log.WarnContext(ctx, "drop message without server identity", "message_id", m.ID, "conversation_id", m.ConversationID)
		return
	}
	m.Status = model.MessageConfirmed
	convID := m.ConversationID

	var (
		unknown  bool
		appended bool
		touch    bool
		promoted [][2]int64
	)

	s.mu.Lock()
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		if _, ok := snap.Get(convID); !ok {
			var folded int64
			snap, folded = claimCounterparty(snap, convID, m.CounterpartyID(), model.Conversation{})
			if folded != 0 {
				promoted = append(promoted, [2]int64{folded, convID})
			} else {
				unknown = true
				snap = snap.Upsert(model.Conversation{ID: convID, CounterpartyID: m.CounterpartyID()})
			}
		}

		cur, _ := snap.Get(convID)
		if snap, appended = snap.AppendMessage(convID, m); !appended {
			return snap
		}
		if m.SenderRole != model.SenderCounterparty {
			return snap
		}
		if cur.IsActive {
			touch = true
			return snap
		}
		// 列表快照已计入其时间点及之前的消息，推送与本地发送不推进该水位
		if unknown || m.Timestamp.After(cur.ListedAt) {
			snap = snap.Update(convID, func(c *model.Conversation) { c.UnreadCount++ })
		}
		return snap
	})
	joins := s.rebindLocked(promoted)
	s.mu.Unlock()

	s.join(ctx, joins...)
	s.rebindReads(promoted)
	if unknown {
		log.InfoContext(ctx, "message for unknown conversation, refreshing listing", "conversation_id", convID)
		s.RefreshInBackground()
	}
	if touch && s.reads != nil {
		s.reads.Touch(convID)
	}
	if appended || len(promoted) > 0 {
		s.emit(ctx, promoted, convID)
	}
}

// StartConversation 返回与对方的已有会话，没有则生成占位会话
func (s *imServiceImpl) StartConversation(counterpartyID int64, displayName string) (model.Conversation, error) {
	if counterpartyID <= 0 {
		return model.Conversation{}, ErrInvalidCounterparty
	}

	var res model.Conversation
	created := false
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		if c, ok := snap.ByCounterparty(counterpartyID); ok {
			res = c
			return snap
		}
		res = model.Conversation{
			ID:                      model.PlaceholderID(counterpartyID),
			CounterpartyID:          counterpartyID,
			CounterpartyDisplayName: displayName,
		}
		created = true
		return snap.Upsert(res)
	})
	if created {
		s.emit(context.Background(), nil, res.ID)
	}
	return res, nil
}

// SendMessage 乐观发送：先写入待确认消息，再等待服务端确认
func (s *imServiceImpl) SendMessage(ctx context.Context, conversationID int64, text string,
	attachments []model.Attachment, contextProductID *int64) (model.PendingSend, error) {
	if text == "" && len(attachments) == 0 {
		return model.PendingSend{}, ErrEmptyMessage
	}
	if s.remote == nil {
		return model.PendingSend{}, ErrRemoteUnavailable
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.PendingSend{}, ErrSessionClosed
	}
	conv, ok := s.repo.GetConversation(conversationID)
	if !ok {
		s.mu.Unlock()
		return model.PendingSend{}, ErrConversationNotFound
	}
	if conv.CounterpartyID <= 0 {
		s.mu.Unlock()
		return model.PendingSend{}, ErrInvalidCounterparty
	}

	ps := &model.PendingSend{
		LocalID:          uuid.NewString(),
		ConversationID:   conv.ID,
		CounterpartyID:   conv.CounterpartyID,
		Text:             text,
		Attachments:      append([]model.Attachment(nil), attachments...),
		ContextProductID: contextProductID,
		CreatedAt:        s.now(),
		Status:           model.SendPending,
	}
	s.pending[ps.LocalID] = ps
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		snap, _ = snap.AppendMessage(conv.ID, localMessage(ps))
		return snap
	})
	s.mu.Unlock()

	s.emit(ctx, nil, conv.ID)
	return s.deliver(ctx, ps)
}

// RetrySend 重新投递失败的消息
func (s *imServiceImpl) RetrySend(ctx context.Context, localID string) (model.PendingSend, error) {
	s.mu.Lock()
	ps, ok := s.pending[localID]
	if !ok {
		s.mu.Unlock()
		return model.PendingSend{}, ErrPendingSendNotFound
	}
	if ps.Status != model.SendFailed {
		s.mu.Unlock()
		return *ps, ErrPendingSendNotFailed
	}
	ps.Status = model.SendPending
	ps.Err = nil
	convID := s.setMessageStatusLocked(ps, model.MessagePending)
	s.mu.Unlock()

	s.emit(ctx, nil, convID)
	return s.deliver(ctx, ps)
}

// DiscardSend 丢弃失败的消息，占位会话保留
func (s *imServiceImpl) DiscardSend(localID string) error {
	s.mu.Lock()
	ps, ok := s.pending[localID]
	if !ok {
		s.mu.Unlock()
		return ErrPendingSendNotFound
	}
	if ps.Status != model.SendFailed {
		s.mu.Unlock()
		return ErrPendingSendNotFailed
	}
	delete(s.pending, localID)
	var convID int64
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		c, ok := locatePending(snap, ps)
		if !ok {
			return snap
		}
		convID = c.ID
		return snap.RemoveMessage(c.ID, localID)
	})
	s.mu.Unlock()

	if convID != 0 {
		s.emit(context.Background(), nil, convID)
	}
	return nil
}

func (s *imServiceImpl) PendingSends() []model.PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.PendingSend, 0, len(s.pending))
	for _, ps := range s.pending {
		res = append(res, *ps)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

func (s *imServiceImpl) deliver(ctx context.Context, ps *model.PendingSend) (model.PendingSend, error) {
	s.mu.Lock()
	ps.Attempts++
	snapshot := *ps
	s.mu.Unlock()

	body, err := dto.NewSendMessageReq(&snapshot)
	if err != nil {
		return s.fail(ctx, ps, err)
	}
	resp, err := s.remote.SendMessage(ctx, body)
	if err != nil {
		return s.fail(ctx, ps, err)
	}
	return s.acknowledge(ctx, ps, model.SendAck{
		MessageID:      resp.MessageID,
		ConversationID: resp.ConversationID,
		Timestamp:      resp.Timestamp,
	})
}

func (s *imServiceImpl) fail(ctx context.Context, ps *model.PendingSend, cause error) (model.PendingSend, error) {
	s.mu.Lock()
	ps.Status = model.SendFailed
	ps.Err = cause
	convID := s.setMessageStatusLocked(ps, model.MessageFailed)
	res := *ps
	s.mu.Unlock()

	log.WarnContext(ctx, "optimistic send rejected",
		"local_id", ps.LocalID,
		"conversation_id", convID,
		"attempts", res.Attempts,
		"err", cause)
	s.emit(ctx, nil, convID)
	return res, &SendError{LocalID: res.LocalID, ConversationID: convID, Err: cause}
}

// acknowledge 用确认替换待确认消息；发送自占位会话时将其提升为真实会话
func (s *imServiceImpl) acknowledge(ctx context.Context, ps *model.PendingSend, ack model.SendAck) (model.PendingSend, error) {
	var promoted [][2]int64

	s.mu.Lock()
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		if src, ok := locatePending(snap, ps); ok && src.ID != ack.ConversationID {
			into, exists := snap.Get(ack.ConversationID)
			if !exists {
				into = model.Conversation{ID: ack.ConversationID}
			}
			snap = foldInto(snap, src, into)
			promoted = append(promoted, [2]int64{src.ID, ack.ConversationID})
		}
		if _, ok := snap.Get(ack.ConversationID); !ok {
			snap = snap.Upsert(model.Conversation{ID: ack.ConversationID, CounterpartyID: ps.CounterpartyID})
		}

		snap = snap.ConfirmMessage(ack.ConversationID, ps.LocalID, ack)
		confirmed := localMessage(ps)
		confirmed.ID = ack.MessageID
		confirmed.Status = model.MessageConfirmed
		if !ack.Timestamp.IsZero() {
			confirmed.Timestamp = ack.Timestamp
		}
		snap, _ = snap.AppendMessage(ack.ConversationID, confirmed)
		return snap
	})

	ps.Status = model.SendAcked
	ps.Err = nil
	ps.Ack = &ack
	ps.ConversationID = ack.ConversationID
	delete(s.pending, ps.LocalID)
	res := *ps
	for _, p := range s.pending {
		for _, pair := range promoted {
			if p.ConversationID == pair[0] {
				p.ConversationID = pair[1]
			}
		}
	}
	joins := s.rebindLocked(promoted)
	s.mu.Unlock()

	s.join(ctx, joins...)
	s.rebindReads(promoted)
	s.emit(ctx, promoted, ack.ConversationID)
	return res, nil
}

// OpenConversation 激活会话：加入频道并交由 ReadTracker 发送已读回执
func (s *imServiceImpl) OpenConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, ok := s.repo.GetConversation(id); !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}

	prev := s.active
	var leave []int64
	if prev != 0 && prev != id {
		leave = s.deactivateLocked(prev)
	}
	s.active = id
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		return snap.Update(id, func(c *model.Conversation) { c.IsActive = true })
	})
	var joins []int64
	if _, ok := s.joined[id]; !ok && !model.IsPlaceholderID(id) {
		s.joined[id] = struct{}{}
		joins = append(joins, id)
	}
	s.mu.Unlock()

	if len(leave) > 0 && s.reads != nil {
		s.reads.OnConversationClosed(prev)
	}
	s.leave(ctx, leave...)
	s.join(ctx, joins...)
	if s.reads != nil {
		s.reads.OnConversationOpened(id)
	}
	if prev != 0 && prev != id {
		s.emit(ctx, nil, prev, id)
	} else {
		s.emit(ctx, nil, id)
	}
	return nil
}

// CloseConversation 离开会话视图：取消防抖中的回执并发送 Leave
func (s *imServiceImpl) CloseConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.active != id {
		s.mu.Unlock()
		return nil
	}
	leave := s.deactivateLocked(id)
	s.mu.Unlock()

	if s.reads != nil {
		s.reads.OnConversationClosed(id)
	}
	s.leave(ctx, leave...)
	s.emit(ctx, nil, id)
	return nil
}

func (s *imServiceImpl) deactivateLocked(id int64) []int64 {
	if s.active == id {
		s.active = 0
	}
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		return snap.Update(id, func(c *model.Conversation) { c.IsActive = false })
	})
	if _, ok := s.joined[id]; ok {
		delete(s.joined, id)
		return []int64{id}
	}
	return nil
}

func (s *imServiceImpl) ActiveConversation() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != 0
}

// Rejoin 连接恢复后重新加入已加入的会话频道
func (s *imServiceImpl) Rejoin(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.join(ctx, ids...)
}

// rebindLocked 会话被合并后，将激活指针与频道订阅迁移到新 id，返回需要加入的频道
func (s *imServiceImpl) rebindLocked(promoted [][2]int64) []int64 {
	var joins []int64
	for _, pair := range promoted {
		from, to := pair[0], pair[1]
		if s.active == from {
			s.active = to
		}
		delete(s.joined, from)
		if _, ok := s.joined[to]; !ok {
			s.joined[to] = struct{}{}
			joins = append(joins, to)
		}
	}
	return joins
}

func (s *imServiceImpl) rebindReads(promoted [][2]int64) {
	if s.reads == nil {
		return
	}
	for _, pair := range promoted {
		s.reads.Rebind(pair[0], pair[1])
	}
}

func (s *imServiceImpl) join(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		if err := s.channel.Invoke(ctx, model.JoinCommand(id)); err != nil {
			log.WarnContext(ctx, "join conversation failed", "conversation_id", id, "err", err)
		}
	}
}

func (s *imServiceImpl) leave(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		if err := s.channel.Invoke(ctx, model.LeaveCommand(id)); err != nil {
			log.WarnContext(ctx, "leave conversation failed", "conversation_id", id, "err", err)
		}
	}
}

// RefreshConversations 分页拉取会话列表，并发调用合并为一次
func (s *imServiceImpl) RefreshConversations(ctx context.Context) error {
	if s.remote == nil {
		return ErrRemoteUnavailable
	}
	_, err, _ := s.refresh.Do("conversations", func() (interface{}, error) {
		for page := 1; page <= s.maxPages; page++ {
			res, err := s.remote.ListConversations(ctx, page)
			if err != nil {
				return nil, err
			}
			items := make([]model.Conversation, 0, len(res.Items))
			for i := range res.Items {
				c, err := res.Items[i].ToModel()
				if err != nil {
					log.WarnContext(ctx, "skip malformed listing entry", "conversation_id", res.Items[i].ID, "err", err)
					continue
				}
				items = append(items, c)
			}
			s.IngestConversations(ctx, items)
			if !res.HasMore {
				break
			}
		}
		return nil, nil
	})
	return err
}

// RefreshInBackground 异步刷新会话列表，不阻塞调用方
func (s *imServiceImpl) RefreshInBackground() {
	if s.remote == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		ctx := logger.WithTrace(s.bgCtx, consts.TracePrefixSession)
		if err := s.RefreshConversations(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WarnContext(ctx, "background conversation refresh failed", "err", err)
		}
	}()
}

// LoadHistory 拉取一页历史消息，返回是否还有更早的消息
func (s *imServiceImpl) LoadHistory(ctx context.Context, conversationID, before int64) (bool, error) {
	if model.IsPlaceholderID(conversationID) {
		if _, ok := s.repo.GetConversation(conversationID); !ok {
			return false, ErrConversationNotFound
		}
		return false, nil
	}
	if s.remote == nil {
		return false, ErrRemoteUnavailable
	}

	res, err := s.remote.GetHistory(ctx, conversationID, before)
	if err != nil {
		return false, err
	}
	msgs := make([]model.Message, 0, len(res.Items))
	for i := range res.Items {
		if err := util.ValidateDTO(&res.Items[i]); err != nil {
			log.WarnContext(ctx, "skip malformed history message", "conversation_id", conversationID, "err", err)
			continue
		}
		m, err := res.Items[i].ToModel()
		if err != nil {
			log.WarnContext(ctx, "skip malformed history message", "conversation_id", conversationID, "err", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if err := s.IngestHistory(ctx, conversationID, msgs); err != nil {
		return false, err
	}
	return res.HasMore, nil
}

func (s *imServiceImpl) Conversations() []model.Conversation {
	return s.repo.ListConversations()
}

func (s *imServiceImpl) Conversation(id int64) (model.Conversation, bool) {
	return s.repo.GetConversation(id)
}

func (s *imServiceImpl) ConversationByCounterparty(counterpartyID int64) (model.Conversation, bool) {
	return s.repo.GetByCounterparty(counterpartyID)
}

func (s *imServiceImpl) TotalUnread() int {
	return s.repo.Snapshot().TotalUnread()
}

// Subscribe 订阅会话变更
func (s *imServiceImpl) Subscribe(l dispatcher.Listener[model.ConversationChange]) func() {
	return s.changes.Register(l)
}

func (s *imServiceImpl) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bgCancel()
	s.bg.Wait()
	if s.reads != nil {
		s.reads.Close()
	}
	log.Info("IMService shut down gracefully")
}

func (s *imServiceImpl) setMessageStatusLocked(ps *model.PendingSend, status model.MessageStatus) int64 {
	var convID int64
	s.repo.Apply(func(snap repository.Snapshot) repository.Snapshot {
		c, ok := locatePending(snap, ps)
		if !ok {
			return snap
		}
		convID = c.ID
		return snap.SetMessageStatus(c.ID, ps.LocalID, status)
	})
	if convID == 0 {
		convID = ps.ConversationID
	}
	return convID
}

func (s *imServiceImpl) emit(ctx context.Context, promoted [][2]int64, ids ...int64) {
	if s.changes == nil {
		return
	}
	for _, pair := range promoted {
		s.changes.Dispatch(ctx, model.ConversationChange{ConversationID: pair[0], Removed: true})
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		s.changes.Dispatch(ctx, model.ConversationChange{ConversationID: id})
	}
}

// locatePending 待确认消息所在会话：原会话已被合并时按对方 ID 查找
func locatePending(snap repository.Snapshot, ps *model.PendingSend) (model.Conversation, bool) {
	if c, ok := snap.Get(ps.ConversationID); ok {
		return c, true
	}
	return snap.ByCounterparty(ps.CounterpartyID)
}

func localMessage(ps *model.PendingSend) model.Message {
	return model.Message{
		LocalID:        ps.LocalID,
		ConversationID: ps.ConversationID,
		RecipientID:    ps.CounterpartyID,
		SenderRole:     model.SenderCustomer,
		Text:           ps.Text,
		Timestamp:      ps.CreatedAt,
		ReadFlag:       true,
		Attachments:    ps.Attachments,
		Status:         model.MessagePending,
	}
}
