package service

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/repository"
	"context"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeChannel struct {
	mu    sync.Mutex
	state model.ConnectionState
	cmds  []model.Command
}

func (c *fakeChannel) Invoke(_ context.Context, cmd model.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.Connected {
		return ErrNotConnected
	}
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *fakeChannel) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) setState(st model.ConnectionState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *fakeChannel) count(typ model.CommandType, id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cmd := range c.cmds {
		if cmd.Type == typ && cmd.ConversationID == id {
			n++
		}
	}
	return n
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	c.cmds = nil
	c.mu.Unlock()
}

type fakeRemote struct {
	mu        sync.Mutex
	pages     []*dto.ConversationPageDTO
	history   *dto.MessagePageDTO
	send      func(body *dto.SendMessageReq) (*dto.SendMessageResp, error)
	sent      []*dto.SendMessageReq
	marked    []int64
	listCalls int
}

func (r *fakeRemote) ListConversations(_ context.Context, page int) (*dto.ConversationPageDTO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if page-1 < len(r.pages) {
		return r.pages[page-1], nil
	}
	return &dto.ConversationPageDTO{Page: page}, nil
}

func (r *fakeRemote) GetHistory(context.Context, int64, int64) (*dto.MessagePageDTO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.history == nil {
		return &dto.MessagePageDTO{}, nil
	}
	return r.history, nil
}

func (r *fakeRemote) SendMessage(_ context.Context, body *dto.SendMessageReq) (*dto.SendMessageResp, error) {
	r.mu.Lock()
	r.sent = append(r.sent, body)
	send := r.send
	r.mu.Unlock()
	return send(body)
}

func (r *fakeRemote) MarkAsRead(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, id)
	return nil
}

func (r *fakeRemote) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

func (r *fakeRemote) markedCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.marked {
		if m == id {
			n++
		}
	}
	return n
}

func ackWith(messageID, conversationID int64) func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
	return func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		return &dto.SendMessageResp{MessageID: messageID, ConversationID: conversationID, Timestamp: time.Now()}, nil
	}
}

type harness struct {
	im      IMService
	repo    repository.ConversationRepo
	channel *fakeChannel
	changes *dispatcher.Dispatcher[model.ConversationChange]
}

const testDebounce = 40 * time.Millisecond

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()
	repo := repository.NewConversationRepo()
	ch := &fakeChannel{state: model.Connected}
	changes := dispatcher.New[model.ConversationChange]("conversation-changes")
	var r RemoteAPI
	if remote != nil {
		r = remote
	}
	reads := NewReadTracker(repo, ch, r, changes, testDebounce)
	im := NewIMService(repo, ch, r, reads, changes, 3)
	t.Cleanup(im.Close)
	return &harness{im: im, repo: repo, channel: ch, changes: changes}
}

func listing(id, counterpartyID int64, name string, at time.Time, unread int, preview string) model.Conversation {
	return model.Conversation{
		ID:                      id,
		CounterpartyID:          counterpartyID,
		CounterpartyDisplayName: name,
		LastMessageTime:         at,
		LastMessagePreview:      preview,
		UnreadCount:             unread,
	}
}

func pushed(id, conversationID, counterpartyID int64, text string, at time.Time) model.Event {
	return model.Event{
		Type: model.EventMessageReceived,
		Message: &model.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       counterpartyID,
			RecipientID:    3,
			SenderRole:     model.SenderCounterparty,
			Text:           text,
			Timestamp:      at,
		},
	}
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []model.ConversationChange
}

func (r *changeRecorder) listen(_ context.Context, c model.ConversationChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *changeRecorder) all() []model.ConversationChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ConversationChange(nil), r.changes...)
}
