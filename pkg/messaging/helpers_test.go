package messaging

import (
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryRequest struct {
	payload []byte
	reply   chan []byte
}

// memoryRequests is an in-process RequestChannel for listener tests.
type memoryRequests struct {
	requests chan memoryRequest
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending *memoryRequest
	polls   int
}

func newMemoryRequests() *memoryRequests {
	return &memoryRequests{
		requests: make(chan memoryRequest),
		done:     make(chan struct{}),
	}
}

func (m *memoryRequests) Bind(addr string) error { return nil }

func (m *memoryRequests) Poll(timeout time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	m.polls++
	if m.pending != nil {
		m.mu.Unlock()
		return nil, false, ErrReplyPending
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil, false, ErrChannelClosed
	default:
	}

	select {
	case req := <-m.requests:
		m.mu.Lock()
		m.pending = &req
		m.mu.Unlock()
		return req.payload, true, nil
	case <-time.After(timeout):
		return nil, false, nil
	case <-m.done:
		return nil, false, ErrChannelClosed
	}
}

func (m *memoryRequests) Reply(payload []byte) error {
	m.mu.Lock()
	req := m.pending
	m.pending = nil
	m.mu.Unlock()
	if req == nil {
		return ErrNoPendingRequest
	}
	req.reply <- payload
	return nil
}

func (m *memoryRequests) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *memoryRequests) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// send submits payload and waits for its reply.
func (m *memoryRequests) send(t *testing.T, payload string) AckResponse {
	t.Helper()
	req := memoryRequest{payload: []byte(payload), reply: make(chan []byte, 1)}
	select {
	case m.requests <- req:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout submitting request")
	}
	select {
	case data := <-req.reply:
		ack, err := DecodeAck(data)
		require.NoError(t, err)
		return ack
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reply")
	}
	return AckResponse{}
}

// memoryBroadcast records published frames.
type memoryBroadcast struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (m *memoryBroadcast) Bind(addr string) error { return nil }

func (m *memoryBroadcast) Publish(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.frames = append(m.frames, payload)
	return nil
}

func (m *memoryBroadcast) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryBroadcast) published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

func dialWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendDirective(t *testing.T, conn *websocket.Conn, payload string) AckResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ack, err := DecodeAck(data)
	require.NoError(t, err)
	return ack
}
