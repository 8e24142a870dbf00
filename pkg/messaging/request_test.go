package messaging

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindRequests(t *testing.T) *WebSocketRequests {
	t.Helper()
	requests := NewWebSocketRequests(WithEndpointLogger(quietLogger()))
	require.NoError(t, requests.Bind("127.0.0.1:0"))
	t.Cleanup(func() { requests.Close() })
	return requests
}

// serveEcho answers every request with its own payload until the channel
// closes.
func serveEcho(requests *WebSocketRequests) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			payload, ok, err := requests.Poll(10 * time.Millisecond)
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			if err := requests.Reply(payload); err != nil {
				return
			}
		}
	}()
	return done
}

func TestRequestReply(t *testing.T) {
	requests := bindRequests(t)
	assert.NotEmpty(t, requests.Addr())
	serveEcho(requests)

	conn := dialWebSocket(t, requests.Addr())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
}

func TestRequestManySequentialCycles(t *testing.T) {
	requests := bindRequests(t)
	serveEcho(requests)
	conn := dialWebSocket(t, requests.Addr())

	for i := 0; i < 1000; i++ {
		payload := fmt.Sprintf(`{"n": %d}`, i)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "cycle %d", i)
		require.Equal(t, payload, string(data))
	}
}

func TestRequestRepliesInArrivalOrder(t *testing.T) {
	requests := bindRequests(t)
	serveEcho(requests)
	conn := dialWebSocket(t, requests.Addr())

	// Pipelined frames are still answered one at a time, in order.
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprint(i))))
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for i := 0; i < 5; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(data))
	}
}

func TestRequestProtocolViolations(t *testing.T) {
	requests := bindRequests(t)

	err := requests.Reply([]byte("unsolicited"))
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	conn := dialWebSocket(t, requests.Addr())
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("first")))

	var payload []byte
	deadline := time.Now().Add(3 * time.Second)
	for payload == nil && time.Now().Before(deadline) {
		p, _, err := requests.Poll(10 * time.Millisecond)
		require.NoError(t, err)
		payload = p
	}
	assert.Equal(t, "first", string(payload))

	_, _, err = requests.Poll(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyPending)

	require.NoError(t, requests.Reply([]byte("answer")))
	assert.ErrorIs(t, requests.Reply([]byte("again")), ErrNoPendingRequest)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "answer", string(data))
}

func TestRequestPollTimesOut(t *testing.T) {
	requests := bindRequests(t)

	start := time.Now()
	payload, ok, err := requests.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestClosed(t *testing.T) {
	requests := NewWebSocketRequests(WithEndpointLogger(quietLogger()))
	require.NoError(t, requests.Bind("127.0.0.1:0"))
	done := serveEcho(requests)

	require.NoError(t, requests.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll loop did not notice the close")
	}

	_, _, err := requests.Poll(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, requests.Reply([]byte("late")), ErrChannelClosed)

	var transportErr *TransportError
	assert.True(t, errors.As(requests.Bind("127.0.0.1:0"), &transportErr))

	// Closing twice is harmless
	assert.NoError(t, requests.Close())
}

func TestRequestBindConflict(t *testing.T) {
	first := bindRequests(t)

	second := NewWebSocketRequests(WithEndpointLogger(quietLogger()))
	t.Cleanup(func() { second.Close() })
	err := second.Bind(first.Addr())

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "bind", transportErr.Op)
	assert.Equal(t, first.Addr(), transportErr.Addr)
}
