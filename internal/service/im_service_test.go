package service

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIMService_PushIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	rec := &changeRecorder{}
	h.im.Subscribe(rec.listen)

	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 0, "")})
	ev := pushed(501, 1, 9, "Hi", base.Add(time.Minute))
	require.NoError(t, h.im.HandleEvent(t.Context(), ev))
	require.NoError(t, h.im.HandleEvent(t.Context(), ev))

	c, ok := h.im.Conversation(1)
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, int64(501), c.Messages[0].ID)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "Hi", c.LastMessagePreview)
	assert.True(t, c.LastMessageTime.Equal(base.Add(time.Minute)))
	assert.Equal(t, 1, h.im.TotalUnread())
	// 一次列表合并、一次推送，重复推送不产生变更
	assert.Len(t, rec.all(), 2)
}

func TestIMService_UnknownSenderRoleDropped(t *testing.T) {
	h := newHarness(t, nil)
	ev := pushed(501, 1, 9, "Hi", base)
	ev.Message.SenderRole = "bot"

	require.NoError(t, h.im.HandleEvent(t.Context(), ev))
	assert.Empty(t, h.im.Conversations())
}

func TestIMService_OwnMessageDoesNotCountUnread(t *testing.T) {
	h := newHarness(t, nil)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 0, "")})

	ev := pushed(502, 1, 9, "from me", base.Add(time.Minute))
	ev.Message.SenderRole = model.SenderCustomer
	ev.Message.SenderID, ev.Message.RecipientID = 3, 9
	require.NoError(t, h.im.HandleEvent(t.Context(), ev))

	c, _ := h.im.Conversation(1)
	assert.Len(t, c.Messages, 1)
	assert.Equal(t, 0, c.UnreadCount)
}

func TestIMService_ReadNotificationClearsUnread(t *testing.T) {
	h := newHarness(t, nil)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 4, "")})

	require.NoError(t, h.im.HandleEvent(t.Context(), model.Event{
		Type: model.EventNotificationMarkedAsRead, ConversationID: 1,
	}))
	c, _ := h.im.Conversation(1)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, 0, h.im.TotalUnread())
}

func TestIMService_UnknownConversationRefreshesListing(t *testing.T) {
	remote := &fakeRemote{pages: []*dto.ConversationPageDTO{{
		Items: []dto.ConversationDTO{{
			ID: 5, CounterpartyID: 8, CounterpartyDisplayName: "Shop",
			LastMessagePreview: "Hey", LastMessageTime: base, UnreadCount: 1,
		}},
	}}}
	h := newHarness(t, remote)

	require.NoError(t, h.im.HandleEvent(t.Context(), pushed(700, 5, 8, "Hey", base)))
	c, ok := h.im.Conversation(5)
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, int64(8), c.CounterpartyID)

	assert.Eventually(t, func() bool {
		c, _ := h.im.Conversation(5)
		return c.CounterpartyDisplayName == "Shop"
	}, time.Second, 5*time.Millisecond)

	c, _ = h.im.Conversation(5)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Len(t, c.Messages, 1)
	assert.GreaterOrEqual(t, remote.calls(), 1)
}

func TestIMService_ListingAndPushCommute(t *testing.T) {
	item := listing(1, 9, "Bob", base, 1, "Hi")
	ev := pushed(501, 1, 9, "Hi", base)

	a := newHarness(t, nil)
	a.im.IngestConversations(t.Context(), []model.Conversation{item})
	require.NoError(t, a.im.HandleEvent(t.Context(), ev))

	b := newHarness(t, nil)
	require.NoError(t, b.im.HandleEvent(t.Context(), ev))
	b.im.IngestConversations(t.Context(), []model.Conversation{item})

	ca, _ := a.im.Conversation(1)
	cb, _ := b.im.Conversation(1)
	assert.Equal(t, ca, cb)
	assert.Equal(t, 1, ca.UnreadCount)
	assert.Len(t, ca.Messages, 1)
}

func TestIMService_StaleListingKeepsNewerLocalState(t *testing.T) {
	h := newHarness(t, nil)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 0, "old")})
	require.NoError(t, h.im.HandleEvent(t.Context(), pushed(501, 1, 9, "new", base.Add(time.Hour))))

	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bobby", base, 0, "old")})

	c, _ := h.im.Conversation(1)
	assert.Equal(t, "new", c.LastMessagePreview)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "Bobby", c.CounterpartyDisplayName)
	assert.Len(t, c.Messages, 1)
}

func TestIMService_UnreadCountsEachCounterpartyMessage(t *testing.T) {
	own := func(ev model.Event) model.Event {
		ev.Message.SenderRole = model.SenderCustomer
		ev.Message.SenderID, ev.Message.RecipientID = 3, 9
		return ev
	}
	at := base.Add(time.Minute)

	cases := []struct {
		name    string
		events  []model.Event
		last    time.Time
		preview string
		unread  int
	}{
		{
			name:    "same timestamp",
			events:  []model.Event{pushed(501, 1, 9, "a", at), pushed(502, 1, 9, "b", at)},
			last:    at,
			preview: "b",
			unread:  2,
		},
		{
			name:    "reply at the instant of own message",
			events:  []model.Event{own(pushed(501, 1, 9, "me", at)), pushed(502, 1, 9, "re", at)},
			last:    at,
			preview: "re",
			unread:  1,
		},
		{
			name:    "older message arrives second",
			events:  []model.Event{pushed(502, 1, 9, "b", at.Add(time.Minute)), pushed(501, 1, 9, "a", at)},
			last:    at.Add(time.Minute),
			preview: "b",
			unread:  2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := listing(1, 9, "Bob", tc.last, tc.unread, tc.preview)

			pushFirst := newHarness(t, nil)
			pushFirst.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 0, "")})
			for _, ev := range tc.events {
				require.NoError(t, pushFirst.im.HandleEvent(t.Context(), ev))
			}
			a, _ := pushFirst.im.Conversation(1)
			assert.Equal(t, tc.unread, a.UnreadCount)
			assert.Len(t, a.Messages, len(tc.events))
			pushFirst.im.IngestConversations(t.Context(), []model.Conversation{report})
			a, _ = pushFirst.im.Conversation(1)

			listingFirst := newHarness(t, nil)
			listingFirst.im.IngestConversations(t.Context(), []model.Conversation{report})
			for _, ev := range tc.events {
				require.NoError(t, listingFirst.im.HandleEvent(t.Context(), ev))
			}
			b, _ := listingFirst.im.Conversation(1)

			assert.Equal(t, tc.unread, a.UnreadCount)
			assert.Equal(t, a, b)
		})
	}
}

func TestIMService_ReplyAtAckInstantCountsUnread(t *testing.T) {
	at := base.Add(time.Minute)
	remote := &fakeRemote{send: func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		return &dto.SendMessageResp{MessageID: 501, ConversationID: 1, Timestamp: at}, nil
	}}
	h := newHarness(t, remote)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 0, "")})

	ps, err := h.im.SendMessage(t.Context(), 1, "hello", nil, nil)
	require.NoError(t, err)
	require.Equal(t, model.SendAcked, ps.Status)

	require.NoError(t, h.im.HandleEvent(t.Context(), pushed(502, 1, 9, "hi back", at)))
	c, _ := h.im.Conversation(1)
	assert.Len(t, c.Messages, 2)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, 1, h.im.TotalUnread())
}

func TestIMService_PlaceholderPromotedOnAck(t *testing.T) {
	remote := &fakeRemote{send: ackWith(900, 77)}
	h := newHarness(t, remote)
	rec := &changeRecorder{}
	h.im.Subscribe(rec.listen)

	ph, err := h.im.StartConversation(42, "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(-42), ph.ID)
	require.NoError(t, h.im.OpenConversation(t.Context(), ph.ID))
	assert.Equal(t, 0, h.channel.count(model.CommandJoin, -42))

	ps, err := h.im.SendMessage(t.Context(), ph.ID, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SendAcked, ps.Status)
	assert.Equal(t, int64(77), ps.ConversationID)
	require.NotNil(t, ps.Ack)
	assert.Equal(t, int64(900), ps.Ack.MessageID)

	_, ok := h.im.Conversation(-42)
	assert.False(t, ok)
	c, ok := h.im.Conversation(77)
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, int64(900), c.Messages[0].ID)
	assert.Equal(t, "hello", c.Messages[0].Text)
	assert.Equal(t, model.MessageConfirmed, c.Messages[0].Status)
	assert.Equal(t, int64(42), c.CounterpartyID)
	assert.Equal(t, "Alice", c.CounterpartyDisplayName)
	assert.True(t, c.IsActive)

	active, ok := h.im.ActiveConversation()
	assert.True(t, ok)
	assert.Equal(t, int64(77), active)
	assert.Equal(t, 1, h.channel.count(model.CommandJoin, 77))
	assert.Empty(t, h.im.PendingSends())
	assert.Contains(t, rec.all(), model.ConversationChange{ConversationID: -42, Removed: true})

	remote.mu.Lock()
	require.Len(t, remote.sent, 1)
	assert.Equal(t, int64(42), remote.sent[0].CounterpartyID)
	assert.Equal(t, ps.LocalID, remote.sent[0].ClientMessageID)
	remote.mu.Unlock()

	// 提升后的激活会话继续发送已读回执
	require.NoError(t, h.im.HandleEvent(t.Context(), pushed(901, 77, 42, "hi back", time.Now().Add(time.Second))))
	assert.Eventually(t, func() bool {
		return h.channel.count(model.CommandMarkAsRead, 77) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIMService_PushBeforeAckLeavesOneConversation(t *testing.T) {
	called := make(chan struct{})
	release := make(chan struct{})
	remote := &fakeRemote{send: func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		close(called)
		<-release
		return &dto.SendMessageResp{MessageID: 900, ConversationID: 77, Timestamp: time.Now()}, nil
	}}
	h := newHarness(t, remote)

	ph, err := h.im.StartConversation(42, "Alice")
	require.NoError(t, err)

	type result struct {
		ps  model.PendingSend
		err error
	}
	done := make(chan result, 1)
	go func() {
		ps, err := h.im.SendMessage(t.Context(), ph.ID, "hello", nil, nil)
		done <- result{ps, err}
	}()

	<-called
	require.NoError(t, h.im.HandleEvent(t.Context(), pushed(501, 77, 42, "welcome", time.Now().Add(time.Second))))
	_, ok := h.im.Conversation(-42)
	assert.False(t, ok)

	close(release)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, int64(77), r.ps.ConversationID)

	n := 0
	for _, c := range h.im.Conversations() {
		if c.CounterpartyID == 42 {
			n++
		}
	}
	assert.Equal(t, 1, n)

	c, ok := h.im.Conversation(77)
	require.True(t, ok)
	require.Len(t, c.Messages, 2)
	ids := []int64{c.Messages[0].ID, c.Messages[1].ID}
	assert.ElementsMatch(t, []int64{900, 501}, ids)
	assert.Equal(t, 1, h.channel.count(model.CommandJoin, 77))
}

func TestIMService_SendFailureAndRetry(t *testing.T) {
	remote := &fakeRemote{send: func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		return nil, errors.New("gateway timeout")
	}}
	h := newHarness(t, remote)
	ph, _ := h.im.StartConversation(42, "Alice")

	ps, err := h.im.SendMessage(t.Context(), ph.ID, "hello", nil, nil)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, ps.LocalID, sendErr.LocalID)
	assert.Equal(t, int64(-42), sendErr.ConversationID)
	assert.Equal(t, model.SendFailed, ps.Status)
	assert.Equal(t, 1, ps.Attempts)

	c, ok := h.im.Conversation(-42)
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, model.MessageFailed, c.Messages[0].Status)
	require.Len(t, h.im.PendingSends(), 1)

	remote.mu.Lock()
	remote.send = ackWith(900, 77)
	remote.mu.Unlock()

	ps, err = h.im.RetrySend(t.Context(), ps.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.SendAcked, ps.Status)
	assert.Equal(t, 2, ps.Attempts)

	c, ok = h.im.Conversation(77)
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, int64(900), c.Messages[0].ID)

	_, err = h.im.RetrySend(t.Context(), ps.LocalID)
	assert.ErrorIs(t, err, ErrPendingSendNotFound)
}

func TestIMService_DiscardFailedSendKeepsPlaceholder(t *testing.T) {
	remote := &fakeRemote{send: func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		return nil, errors.New("rejected")
	}}
	h := newHarness(t, remote)
	ph, _ := h.im.StartConversation(42, "Alice")

	ps, err := h.im.SendMessage(t.Context(), ph.ID, "hello", nil, nil)
	require.Error(t, err)

	require.NoError(t, h.im.DiscardSend(ps.LocalID))
	c, ok := h.im.Conversation(-42)
	require.True(t, ok)
	assert.Empty(t, c.Messages)
	assert.Empty(t, h.im.PendingSends())
	assert.ErrorIs(t, h.im.DiscardSend(ps.LocalID), ErrPendingSendNotFound)
}

func TestIMService_ListingPromotesPlaceholderWithFailedSend(t *testing.T) {
	remote := &fakeRemote{send: func(*dto.SendMessageReq) (*dto.SendMessageResp, error) {
		return nil, errors.New("rejected")
	}}
	h := newHarness(t, remote)
	ph, _ := h.im.StartConversation(42, "Alice")
	ps, err := h.im.SendMessage(t.Context(), ph.ID, "hello", nil, nil)
	require.Error(t, err)

	h.im.IngestConversations(t.Context(), []model.Conversation{listing(77, 42, "Alice", base, 0, "")})
	_, ok := h.im.Conversation(-42)
	assert.False(t, ok)
	assert.Equal(t, 1, h.channel.count(model.CommandJoin, 77))

	remote.mu.Lock()
	remote.send = ackWith(900, 77)
	remote.mu.Unlock()
	_, err = h.im.RetrySend(t.Context(), ps.LocalID)
	require.NoError(t, err)

	c, _ := h.im.Conversation(77)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, int64(900), c.Messages[0].ID)
	assert.Len(t, h.im.Conversations(), 1)
}

func TestIMService_SendValidation(t *testing.T) {
	h := newHarness(t, &fakeRemote{send: ackWith(1, 1)})

	_, err := h.im.SendMessage(t.Context(), 1, "", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.im.SendMessage(t.Context(), 1, "hello", nil, nil)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = h.im.StartConversation(0, "")
	assert.ErrorIs(t, err, ErrInvalidCounterparty)

	noRemote := newHarness(t, nil)
	_, err = noRemote.im.SendMessage(t.Context(), 1, "hello", nil, nil)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestIMService_StartConversationReusesExisting(t *testing.T) {
	h := newHarness(t, nil)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(77, 42, "Alice", base, 0, "")})

	c, err := h.im.StartConversation(42, "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(77), c.ID)
	assert.Len(t, h.im.Conversations(), 1)
}

func TestIMService_RefreshStopsAtMaxPages(t *testing.T) {
	remote := &fakeRemote{}
	for i := int64(1); i <= 4; i++ {
		remote.pages = append(remote.pages, &dto.ConversationPageDTO{
			Items:   []dto.ConversationDTO{{ID: i, CounterpartyID: 100 + i, LastMessageTime: base}},
			Page:    int(i),
			HasMore: true,
		})
	}
	h := newHarness(t, remote)

	require.NoError(t, h.im.RefreshConversations(t.Context()))
	assert.Equal(t, 3, remote.calls())
	assert.Len(t, h.im.Conversations(), 3)
}

func TestIMService_LoadHistory(t *testing.T) {
	remote := &fakeRemote{history: &dto.MessagePageDTO{
		Items: []dto.MessageDTO{
			{ID: 10, ConversationID: 1, SenderID: 9, RecipientID: 3, SenderRole: "counterparty", Text: "old", Timestamp: base.Add(-time.Hour)},
			{ID: 11, ConversationID: 1, SenderRole: "counterparty", Text: "no timestamp"},
		},
		HasMore: true,
	}}
	h := newHarness(t, remote)
	h.im.IngestConversations(t.Context(), []model.Conversation{listing(1, 9, "Bob", base, 2, "latest")})

	more, err := h.im.LoadHistory(t.Context(), 1, 0)
	require.NoError(t, err)
	assert.True(t, more)

	c, _ := h.im.Conversation(1)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, int64(10), c.Messages[0].ID)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "latest", c.LastMessagePreview)

	_, err = h.im.LoadHistory(t.Context(), 404, 0)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	ph, _ := h.im.StartConversation(42, "")
	more, err = h.im.LoadHistory(t.Context(), ph.ID, 0)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestIMService_RejoinAndLeave(t *testing.T) {
	h := newHarness(t, nil)
	h.im.IngestConversations(t.Context(), []model.Conversation{
		listing(1, 9, "Bob", base, 0, ""),
		listing(2, 10, "Carol", base, 0, ""),
	})

	require.NoError(t, h.im.OpenConversation(t.Context(), 1))
	require.NoError(t, h.im.OpenConversation(t.Context(), 2))
	assert.Equal(t, 1, h.channel.count(model.CommandLeave, 1))
	c1, _ := h.im.Conversation(1)
	c2, _ := h.im.Conversation(2)
	assert.False(t, c1.IsActive)
	assert.True(t, c2.IsActive)

	h.channel.reset()
	h.im.Rejoin(t.Context())
	assert.Equal(t, 1, h.channel.count(model.CommandJoin, 2))
	assert.Equal(t, 0, h.channel.count(model.CommandJoin, 1))

	require.NoError(t, h.im.CloseConversation(t.Context(), 2))
	assert.Equal(t, 1, h.channel.count(model.CommandLeave, 2))
	_, ok := h.im.ActiveConversation()
	assert.False(t, ok)

	assert.ErrorIs(t, h.im.OpenConversation(t.Context(), 404), ErrConversationNotFound)
}
