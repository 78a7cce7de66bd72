package repository

import (
	"Storefront/internal/model"
	"sort"
	"sync"
)

// ConversationRepo 会话存储：持有当前快照，所有写入通过 Apply 原子替换
type ConversationRepo interface {
	Snapshot() Snapshot
	Apply(fn func(Snapshot) Snapshot) Snapshot

	GetConversation(id int64) (model.Conversation, bool)
	GetByCounterparty(counterpartyID int64) (model.Conversation, bool)
	ListConversations() []model.Conversation
}

type conversationRepoImpl struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewConversationRepo() ConversationRepo {
	return &conversationRepoImpl{snap: EmptySnapshot()}
}

func (s *conversationRepoImpl) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Apply 基于最新快照计算并替换，fn 内禁止任何 I/O
func (s *conversationRepoImpl) Apply(fn func(Snapshot) Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = fn(s.snap)
	return s.snap
}

func (s *conversationRepoImpl) GetConversation(id int64) (model.Conversation, bool) {
	return s.Snapshot().Get(id)
}

func (s *conversationRepoImpl) GetByCounterparty(counterpartyID int64) (model.Conversation, bool) {
	return s.Snapshot().ByCounterparty(counterpartyID)
}

func (s *conversationRepoImpl) ListConversations() []model.Conversation {
	return s.Snapshot().List()
}

// Snapshot 不可变的会话集合。每个写操作返回新快照，旧快照保持不变
type Snapshot struct {
	convs          map[int64]*model.Conversation
	byCounterparty map[int64]int64
}

func EmptySnapshot() Snapshot {
	return Snapshot{
		convs:          map[int64]*model.Conversation{},
		byCounterparty: map[int64]int64{},
	}
}

func (s Snapshot) Len() int {
	return len(s.convs)
}

// Get 返回会话副本
func (s Snapshot) Get(id int64) (model.Conversation, bool) {
	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, false
	}
	return c.Clone(), true
}

// ByCounterparty 按对方 ID 查找会话（二级键）
func (s Snapshot) ByCounterparty(counterpartyID int64) (model.Conversation, bool) {
	id, ok := s.byCounterparty[counterpartyID]
	if !ok {
		return model.Conversation{}, false
	}
	return s.Get(id)
}

// List 按最后消息时间倒序
func (s Snapshot) List() []model.Conversation {
	res := make([]model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		res = append(res, c.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].LastMessageTime.Equal(res[j].LastMessageTime) {
			return res[i].LastMessageTime.After(res[j].LastMessageTime)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// TotalUnread 全局未读数
func (s Snapshot) TotalUnread() int {
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

func (s Snapshot) clone() Snapshot {
	next := Snapshot{
		convs:          make(map[int64]*model.Conversation, len(s.convs)+1),
		byCounterparty: make(map[int64]int64, len(s.byCounterparty)+1),
	}
	for k, v := range s.convs {
		next.convs[k] = v
	}
	for k, v := range s.byCounterparty {
		next.byCounterparty[k] = v
	}
	return next
}

// Upsert 整体写入会话。同一对方只允许一个条目，被顶替的旧条目直接丢弃，
// 调用方须先完成合并
func (s Snapshot) Upsert(c model.Conversation) Snapshot {
	next := s.clone()
	if old, ok := next.convs[c.ID]; ok && old.CounterpartyID != c.CounterpartyID {
		if next.byCounterparty[old.CounterpartyID] == c.ID {
			delete(next.byCounterparty, old.CounterpartyID)
		}
	}
	if c.CounterpartyID != 0 {
		if otherID, ok := next.byCounterparty[c.CounterpartyID]; ok && otherID != c.ID {
			delete(next.convs, otherID)
		}
		next.byCounterparty[c.CounterpartyID] = c.ID
	}
	stored := c.Clone()
	sortMessages(stored.Messages)
	refreshSummary(&stored)
	next.convs[c.ID] = &stored
	return next
}

// Update 对单个会话做写时复制修改，会话不存在时原样返回
func (s Snapshot) Update(id int64, fn func(c *model.Conversation)) Snapshot {
	cur, ok := s.convs[id]
	if !ok {
		return s
	}
	c := cur.Clone()
	fn(&c)
	return s.Upsert(c)
}

// Remove 删除会话
func (s Snapshot) Remove(id int64) Snapshot {
	cur, ok := s.convs[id]
	if !ok {
		return s
	}
	next := s.clone()
	delete(next.convs, id)
	if next.byCounterparty[cur.CounterpartyID] == id {
		delete(next.byCounterparty, cur.CounterpartyID)
	}
	return next
}

// AppendMessage 追加消息。同一会话内已存在相同 ID（待确认消息按 LocalID）时不做任何修改，
// 这是所有写入方必须经过的唯一去重关口
func (s Snapshot) AppendMessage(conversationID int64, m model.Message) (Snapshot, bool) {
	cur, ok := s.convs[conversationID]
	if !ok {
		return s, false
	}
	if indexOf(cur.Messages, m) >= 0 {
		return s, false
	}
	c := *cur
	msgs := make([]model.Message, 0, len(cur.Messages)+1)
	msgs = append(msgs, cur.Messages...)
	m = m.Clone()
	m.ConversationID = conversationID
	msgs = insertSorted(msgs, m)
	c.Messages = msgs
	refreshSummary(&c)

	next := s.clone()
	next.convs[conversationID] = &c
	return next, true
}

// ConfirmMessage 用服务端确认替换待确认消息。若同 ID 消息已由推送先到达，则丢弃本地副本
func (s Snapshot) ConfirmMessage(conversationID int64, localID string, ack model.SendAck) Snapshot {
	return s.Update(conversationID, func(c *model.Conversation) {
		pos := -1
		for i := range c.Messages {
			if c.Messages[i].LocalID == localID && !c.Messages[i].Confirmed() {
				pos = i
				break
			}
		}
		if pos < 0 {
			return
		}
		for i := range c.Messages {
			if c.Messages[i].ID == ack.MessageID {
				c.Messages = append(c.Messages[:pos], c.Messages[pos+1:]...)
				return
			}
		}
		m := &c.Messages[pos]
		m.ID = ack.MessageID
		m.Status = model.MessageConfirmed
		m.ConversationID = conversationID
		if !ack.Timestamp.IsZero() {
			m.Timestamp = ack.Timestamp
		}
	})
}

// SetMessageStatus 更新待确认消息的本地状态
func (s Snapshot) SetMessageStatus(conversationID int64, localID string, status model.MessageStatus) Snapshot {
	return s.Update(conversationID, func(c *model.Conversation) {
		for i := range c.Messages {
			if c.Messages[i].LocalID == localID && !c.Messages[i].Confirmed() {
				c.Messages[i].Status = status
			}
		}
	})
}

// RemoveMessage 按 LocalID 删除未确认消息
func (s Snapshot) RemoveMessage(conversationID int64, localID string) Snapshot {
	return s.Update(conversationID, func(c *model.Conversation) {
		kept := c.Messages[:0]
		for _, m := range c.Messages {
			if m.LocalID == localID && !m.Confirmed() {
				continue
			}
			kept = append(kept, m)
		}
		c.Messages = kept
	})
}

// HasUnread 未读计数大于零，或存在尚未标记已读的对方消息
func (s Snapshot) HasUnread(id int64) bool {
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	if c.UnreadCount > 0 {
		return true
	}
	for i := range c.Messages {
		if c.Messages[i].SenderRole == model.SenderCounterparty && !c.Messages[i].ReadFlag {
			return true
		}
	}
	return false
}

// MarkRead 清零未读并标记对方消息为已读；已读会话原样返回
func (s Snapshot) MarkRead(id int64) (Snapshot, bool) {
	if !s.HasUnread(id) {
		return s, false
	}
	return s.Update(id, func(c *model.Conversation) {
		c.UnreadCount = 0
		for i := range c.Messages {
			if c.Messages[i].SenderRole == model.SenderCounterparty {
				c.Messages[i].ReadFlag = true
			}
		}
	}), true
}

func indexOf(msgs []model.Message, m model.Message) int {
	for i := range msgs {
		if m.Confirmed() {
			if msgs[i].ID == m.ID {
				return i
			}
			continue
		}
		if m.LocalID != "" && msgs[i].LocalID == m.LocalID && !msgs[i].Confirmed() {
			return i
		}
	}
	return -1
}

func insertSorted(msgs []model.Message, m model.Message) []model.Message {
	pos := sort.Search(len(msgs), func(i int) bool { return m.Less(&msgs[i]) })
	msgs = append(msgs, model.Message{})
	copy(msgs[pos+1:], msgs[pos:])
	msgs[pos] = m
	return msgs
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Less(&msgs[j]) })
}

// refreshSummary 最后一条消息不早于当前摘要时间时覆盖摘要
func refreshSummary(c *model.Conversation) {
	if len(c.Messages) == 0 {
		return
	}
	last := &c.Messages[len(c.Messages)-1]
	if !last.Timestamp.Before(c.LastMessageTime) {
		c.LastMessageTime = last.Timestamp
		c.LastMessagePreview = last.Preview()
	}
}
