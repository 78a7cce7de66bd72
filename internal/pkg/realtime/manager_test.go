package realtime

import (
	"Storefront/internal/model"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer 依次返回预置连接，用完后一律失败
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	headers []http.Header
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers = append(d.headers, header.Clone())
	if len(d.conns) == 0 {
		return nil, errors.New("endpoint unreachable")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

func (d *fakeDialer) authorization(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers[i].Get("Authorization")
}

type stateRecorder struct {
	mu      sync.Mutex
	changes []model.StateChange
}

func (r *stateRecorder) listen(_ context.Context, c model.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *stateRecorder) states() []model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.ConnectionState, 0, len(r.changes))
	for _, c := range r.changes {
		res = append(res, c.To)
	}
	return res
}

func TestManager_RetrySchedule(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var waits []time.Duration
	m := NewManager(Options{
		Endpoint: "ws://example.invalid/hubs/chat",
		Dialer:   dialer,
		Wait: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			waits = append(waits, d)
			if len(waits) == 5 {
				return context.Canceled
			}
			return nil
		},
	})
	rec := &stateRecorder{}
	m.OnStateChange(rec.listen)

	require.NoError(t, m.Start(t.Context(), "token"))
	assert.Eventually(t, func() bool {
		return len(rec.states()) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second}, waits)
	mu.Unlock()
	assert.Equal(t, []model.ConnectionState{
		model.Connecting, model.Disconnected, model.Reconnecting, model.Disconnected,
	}, rec.states())
	assert.Equal(t, 5, dialer.attempts())
	assert.Equal(t, model.Disconnected, m.State())
}

func TestManager_ConnectDispatchInvoke(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := NewManager(Options{Endpoint: "ws://example.invalid/hubs/chat", Dialer: dialer})

	received := make(chan model.Event, 4)
	m.Events().Register(func(_ context.Context, ev model.Event) error {
		received <- ev
		return nil
	})

	require.NoError(t, m.Start(t.Context(), "token-a"))
	assert.Eventually(t, func() bool { return m.State() == model.Connected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer token-a", dialer.authorization(0))

	conn.in <- []byte(`not a frame`)
	conn.in <- []byte(`{"type":"NotificationMarkedAsRead","data":{"conversationId":5}}`)
	select {
	case ev := <-received:
		assert.Equal(t, model.EventNotificationMarkedAsRead, ev.Type)
		assert.Equal(t, int64(5), ev.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}
	assert.Equal(t, model.Connected, m.State())

	require.NoError(t, m.Invoke(t.Context(), model.JoinCommand(77)))
	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"Join","data":{"conversationId":77}}`, string(frames[0]))

	m.Stop()
	assert.Equal(t, model.Disconnected, m.State())
	assert.ErrorIs(t, m.Invoke(t.Context(), model.LeaveCommand(77)), ErrNotConnected)
}

func TestManager_ReconnectAfterLoss(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	var mu sync.Mutex
	var waits []time.Duration
	m := NewManager(Options{
		Endpoint: "ws://example.invalid/hubs/chat",
		Dialer:   dialer,
		Wait: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			waits = append(waits, d)
			return nil
		},
	})
	rec := &stateRecorder{}
	m.OnStateChange(rec.listen)

	require.NoError(t, m.Start(t.Context(), "token"))
	assert.Eventually(t, func() bool { return m.State() == model.Connected }, time.Second, 5*time.Millisecond)

	_ = first.Close()
	assert.Eventually(t, func() bool { return len(rec.states()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.ConnectionState{
		model.Connecting, model.Connected, model.Reconnecting, model.Connected,
	}, rec.states())

	mu.Lock()
	assert.Equal(t, []time.Duration{0}, waits)
	mu.Unlock()

	m.Stop()
	assert.Equal(t, model.Disconnected, m.State())
}

func TestManager_UpdateCredentialAppliesOnNextAttempt(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	var m *Manager
	m = NewManager(Options{
		Endpoint: "ws://example.invalid/hubs/chat",
		Dialer:   dialer,
		Wait: func(context.Context, time.Duration) error {
			m.UpdateCredential("token-b")
			dialer.mu.Lock()
			dialer.conns = []*fakeConn{conn}
			dialer.mu.Unlock()
			return nil
		},
	})

	require.NoError(t, m.Start(t.Context(), "token-a"))
	assert.Eventually(t, func() bool { return m.State() == model.Connected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer token-a", dialer.authorization(0))
	assert.Equal(t, "Bearer token-b", dialer.authorization(1))

	m.Stop()
}

func TestManager_StopCancelsPendingRetry(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(Options{Endpoint: "ws://example.invalid/hubs/chat", Dialer: dialer})

	require.NoError(t, m.Start(t.Context(), ""))
	// 第二次失败后进入 2s 等待
	assert.Eventually(t, func() bool { return dialer.attempts() >= 2 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the pending retry")
	}
	assert.Equal(t, model.Disconnected, m.State())
	assert.Equal(t, 2, dialer.attempts())
}

func TestManager_StartTwice(t *testing.T) {
	m := NewManager(Options{Endpoint: "ws://example.invalid/hubs/chat", Dialer: &fakeDialer{}, Wait: func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	require.NoError(t, m.Start(t.Context(), ""))
	assert.ErrorIs(t, m.Start(t.Context(), ""), ErrAlreadyStarted)
	m.Stop()

	// Stop 之后允许再次启动
	require.NoError(t, m.Start(t.Context(), ""))
	m.Stop()
}

func TestManager_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	conn := newFakeConn()
	m := NewManager(Options{Endpoint: "ws://example.invalid/hubs/chat", Dialer: &fakeDialer{conns: []*fakeConn{conn}}})
	rec := &stateRecorder{}
	m.OnStateChange(rec.listen)

	require.NoError(t, m.Start(ctx, ""))
	assert.Eventually(t, func() bool { return m.State() == model.Connected }, time.Second, 5*time.Millisecond)

	cancel()
	_ = conn.Close()
	assert.Eventually(t, func() bool { return m.State() == model.Disconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connected, model.Disconnected}, rec.states())
	m.Stop()
}

func TestManager_WebsocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	gotCommand := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gotCommand <- data
		push, _ := json.Marshal(map[string]any{
			"type": "MessageReceived",
			"data": map[string]any{
				"id": 501, "conversationId": 1, "senderId": 9, "recipientId": 3,
				"senderRole": "counterparty", "text": "Hi", "timestamp": "2026-03-01T12:00:00Z",
			},
		})
		_ = conn.WriteMessage(websocket.TextMessage, push)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	endpoint, err := ResolveEndpoint("", srv.URL, "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(endpoint, "ws://"))

	m := NewManager(Options{
		Endpoint:     endpoint,
		Dialer:       NewWSDialer(time.Second, 1<<20),
		WriteTimeout: time.Second,
	})
	received := make(chan model.Event, 1)
	m.Events().Register(func(_ context.Context, ev model.Event) error {
		received <- ev
		return nil
	})

	require.NoError(t, m.Start(t.Context(), "Bearer secret"))
	assert.Equal(t, "Bearer secret", <-gotAuth)
	assert.Eventually(t, func() bool { return m.State() == model.Connected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Invoke(t.Context(), model.JoinCommand(1)))
	select {
	case data := <-gotCommand:
		assert.JSONEq(t, `{"type":"Join","data":{"conversationId":1}}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("command not received by server")
	}
	select {
	case ev := <-received:
		require.NotNil(t, ev.Message)
		assert.Equal(t, int64(501), ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("push not dispatched")
	}

	m.Stop()
	assert.Equal(t, model.Disconnected, m.State())
}
