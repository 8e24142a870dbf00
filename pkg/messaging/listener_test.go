package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu         sync.Mutex
	directives []Directive
	err        error
}

func (h *recordingHandler) handle(ctx context.Context, d Directive) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.directives = append(h.directives, d)
	return h.err
}

func (h *recordingHandler) calls() []Directive {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Directive(nil), h.directives...)
}

func startListener(t *testing.T, handler DirectiveHandler) (*DirectiveListener, *memoryRequests) {
	t.Helper()
	channel := newMemoryRequests()
	listener := NewDirectiveListener(channel, func() DirectiveHandler { return handler }, 10*time.Millisecond, quietLogger())
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() {
		listener.Stop(time.Second)
		channel.Close()
	})
	return listener, channel
}

func TestListenerStates(t *testing.T) {
	channel := newMemoryRequests()
	listener := NewDirectiveListener(channel, nil, 10*time.Millisecond, quietLogger())
	assert.Equal(t, ListenerIdle, listener.State())
	assert.Nil(t, listener.Done())

	// Stop before Start does nothing
	assert.True(t, listener.Stop(time.Second))
	assert.Equal(t, ListenerIdle, listener.State())

	require.NoError(t, listener.Start(context.Background()))
	assert.Equal(t, ListenerRunning, listener.State())

	var lifecycleErr *LifecycleError
	assert.True(t, errors.As(listener.Start(context.Background()), &lifecycleErr))

	assert.True(t, listener.Stop(time.Second))
	assert.Equal(t, ListenerStopped, listener.State())
	select {
	case <-listener.Done():
	default:
		t.Fatal("listener goroutine still running after Stop")
	}

	// Stopping twice is harmless
	assert.True(t, listener.Stop(time.Second))
	assert.Equal(t, "stopped", listener.State().String())
}

func TestListenerDirectives(t *testing.T) {
	t.Run("reward weights reach the handler", func(t *testing.T) {
		handler := &recordingHandler{}
		_, channel := startListener(t, handler.handle)

		ack := channel.send(t, `{"reward_weights": {"discovery": 2.0}}`)
		assert.Equal(t, AckResponse{Status: StatusOK}, ack)

		calls := handler.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]float64{"discovery": 2.0}, calls[0].RewardWeights)
	})

	t.Run("upgrade reaches the handler", func(t *testing.T) {
		handler := &recordingHandler{}
		_, channel := startListener(t, handler.handle)

		ack := channel.send(t, `{"upgrade": "wide_sensor"}`)
		assert.Equal(t, StatusOK, ack.Status)

		calls := handler.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "wide_sensor", calls[0].Upgrade)
	})

	t.Run("malformed payload skips the handler", func(t *testing.T) {
		handler := &recordingHandler{}
		_, channel := startListener(t, handler.handle)

		ack := channel.send(t, `{"upgrade": `)
		assert.Equal(t, StatusError, ack.Status)
		assert.Contains(t, ack.Message, "invalid directive")
		assert.Empty(t, handler.calls())

		// The loop keeps serving afterwards
		ack = channel.send(t, `{"upgrade": "sensor_quality"}`)
		assert.Equal(t, StatusOK, ack.Status)
		assert.Len(t, handler.calls(), 1)
	})

	t.Run("handler failure is reported and survived", func(t *testing.T) {
		handler := &recordingHandler{err: errors.New("insufficient budget")}
		_, channel := startListener(t, handler.handle)

		ack := channel.send(t, `{"upgrade": "prediction_hints"}`)
		assert.Equal(t, StatusError, ack.Status)
		assert.Contains(t, ack.Message, "insufficient budget")

		handler.mu.Lock()
		handler.err = nil
		handler.mu.Unlock()
		ack = channel.send(t, `{"upgrade": "prediction_hints"}`)
		assert.Equal(t, StatusOK, ack.Status)
	})

	t.Run("handler panic is reported and survived", func(t *testing.T) {
		var calls atomic.Int32
		_, channel := startListener(t, func(ctx context.Context, d Directive) error {
			if calls.Add(1) == 1 {
				panic("bad directive")
			}
			return nil
		})

		ack := channel.send(t, `{}`)
		assert.Equal(t, StatusError, ack.Status)
		assert.Contains(t, ack.Message, "panic: bad directive")

		ack = channel.send(t, `{}`)
		assert.Equal(t, StatusOK, ack.Status)
	})

	t.Run("no handler registered", func(t *testing.T) {
		_, channel := startListener(t, nil)

		ack := channel.send(t, `{"upgrade": "sensor_quality"}`)
		assert.Equal(t, AckResponse{Status: StatusError, Message: "no handler registered"}, ack)
	})
}

func TestListenerManySequentialCycles(t *testing.T) {
	var count atomic.Int64
	_, channel := startListener(t, func(ctx context.Context, d Directive) error {
		count.Add(1)
		return nil
	})

	for i := 0; i < 1000; i++ {
		ack := channel.send(t, `{"reward_weights": {"discovery_value": 1}}`)
		require.Equal(t, StatusOK, ack.Status)
	}
	assert.Equal(t, int64(1000), count.Load())
}

func TestListenerStopsOnClosedChannel(t *testing.T) {
	channel := newMemoryRequests()
	listener := NewDirectiveListener(channel, nil, 10*time.Millisecond, quietLogger())
	require.NoError(t, listener.Start(context.Background()))

	require.NoError(t, channel.Close())
	select {
	case <-listener.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not exit after its channel closed")
	}
	listener.Stop(time.Second)
}

func TestListenerStopJoinTimeout(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	channel := newMemoryRequests()
	listener := NewDirectiveListener(channel, func() DirectiveHandler {
		return func(ctx context.Context, d Directive) error {
			close(entered)
			<-release
			return nil
		}
	}, 10*time.Millisecond, quietLogger())
	require.NoError(t, listener.Start(context.Background()))

	req := memoryRequest{payload: []byte(`{}`), reply: make(chan []byte, 1)}
	channel.requests <- req
	<-entered

	start := time.Now()
	assert.False(t, listener.Stop(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ListenerStopped, listener.State())

	close(release)
	select {
	case <-listener.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not exit after the slow handler returned")
	}
	// The in-flight directive was still answered
	assert.JSONEq(t, `{"status":"ok"}`, string(<-req.reply))
	channel.Close()
}

func TestListenerPollsWhileIdle(t *testing.T) {
	listener, channel := startListener(t, nil)
	require.Eventually(t, func() bool { return channel.pollCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ListenerRunning, listener.State())
}
