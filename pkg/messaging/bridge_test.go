package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/silentsky/pkg/core"
)

func localConfig() Config {
	return Config{
		Enabled:     true,
		PublishAddr: "127.0.0.1:0",
		RequestAddr: "127.0.0.1:0",
	}
}

func newTestBridge(t *testing.T, cfg Config, opts ...Option) *Bridge {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithSettleDelay(0),
		WithPollTimeout(10 * time.Millisecond),
		WithJoinTimeout(time.Second),
	}, opts...)
	b := New(cfg, opts...)
	t.Cleanup(func() { b.Stop() })
	return b
}

func TestBridgeStopWithoutStart(t *testing.T) {
	b := newTestBridge(t, localConfig())
	assert.NoError(t, b.Stop())
	assert.NoError(t, b.Stop())
	assert.Equal(t, ListenerIdle, b.ListenerState())
	assert.Nil(t, b.ListenerDone())

	// A bridge that was never started can still start.
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, ListenerRunning, b.ListenerState())
}

func TestBridgeDisabled(t *testing.T) {
	broadcast := &memoryBroadcast{}
	requests := newMemoryRequests()
	b := newTestBridge(t, Config{Enabled: false}, WithChannels(broadcast, requests))

	assert.False(t, b.Enabled())
	require.NoError(t, b.Start(context.Background()))
	b.Publish(sampleState(), sampleObservation(), nil)
	assert.Empty(t, broadcast.published())
	assert.Equal(t, ListenerIdle, b.ListenerState())
	assert.Zero(t, requests.pollCount())
	assert.NoError(t, b.Stop())
}

func TestBridgeLifecycle(t *testing.T) {
	b := newTestBridge(t, localConfig())

	require.NoError(t, b.Start(context.Background()))
	// Starting again while running is ignored
	require.NoError(t, b.Start(context.Background()))
	assert.NotEqual(t, "127.0.0.1:0", b.PublishAddr())
	assert.NotEqual(t, "127.0.0.1:0", b.RequestAddr())

	done := b.ListenerDone()
	require.NotNil(t, done)
	require.NoError(t, b.Stop())
	select {
	case <-done:
	default:
		t.Fatal("listener still running after Stop")
	}
	assert.Equal(t, ListenerStopped, b.ListenerState())
	assert.NoError(t, b.Stop())

	var lifecycleErr *LifecycleError
	assert.True(t, errors.As(b.Start(context.Background()), &lifecycleErr))
}

func TestBridgeBindFailure(t *testing.T) {
	occupied := newTestBridge(t, localConfig())
	require.NoError(t, occupied.Start(context.Background()))

	cfg := localConfig()
	cfg.RequestAddr = occupied.RequestAddr()
	b := newTestBridge(t, cfg)

	err := b.Start(context.Background())
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, ListenerIdle, b.ListenerState())
}

func TestBridgePublish(t *testing.T) {
	broadcast := &memoryBroadcast{}
	requests := newMemoryRequests()
	b := newTestBridge(t, localConfig(), WithChannels(broadcast, requests))

	// Nothing goes out before Start
	b.Publish(sampleState(), sampleObservation(), nil)
	assert.Empty(t, broadcast.published())

	require.NoError(t, b.Start(context.Background()))
	b.Publish(sampleState(), sampleObservation(), core.Info{"profit": 12.5})

	frames := broadcast.published()
	require.Len(t, frames, 1)
	snap, err := DecodeSnapshot(frames[0])
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Timestep)
	assert.Equal(t, 12.5, snap.Info["profit"])

	require.NoError(t, b.Stop())
	b.Publish(sampleState(), sampleObservation(), nil)
	assert.Len(t, broadcast.published(), 1)
}

func TestBridgeHandlerReplacement(t *testing.T) {
	requests := newMemoryRequests()
	b := newTestBridge(t, localConfig(), WithChannels(&memoryBroadcast{}, requests))
	require.NoError(t, b.Start(context.Background()))

	ack := requests.send(t, `{"upgrade": "sensor_quality"}`)
	assert.Equal(t, "no handler registered", ack.Message)

	var mu sync.Mutex
	var seen []string
	b.RegisterHandler(func(ctx context.Context, d Directive) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "first:"+d.Upgrade)
		return nil
	})
	assert.Equal(t, StatusOK, requests.send(t, `{"upgrade": "sensor_quality"}`).Status)

	b.RegisterHandler(func(ctx context.Context, d Directive) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "second:"+d.Upgrade)
		return nil
	})
	assert.Equal(t, StatusOK, requests.send(t, `{"upgrade": "field_of_view"}`).Status)

	mu.Lock()
	assert.Equal(t, []string{"first:sensor_quality", "second:field_of_view"}, seen)
	mu.Unlock()

	b.RegisterHandler(nil)
	assert.Equal(t, StatusError, requests.send(t, `{}`).Status)
}

func TestBridgeEndToEnd(t *testing.T) {
	b := newTestBridge(t, localConfig())
	queue := NewDirectiveQueue(16)
	b.RegisterHandler(queue.Enqueue)
	require.NoError(t, b.Start(context.Background()))

	subscriber := dialWebSocket(t, b.PublishAddr())
	control := dialWebSocket(t, b.RequestAddr())

	ack := sendDirective(t, control, `{"reward_weights": {"discovery": 2.0}}`)
	assert.Equal(t, AckResponse{Status: StatusOK}, ack)
	ack = sendDirective(t, control, `{"upgrade": `)
	assert.Equal(t, StatusError, ack.Status)

	drained := queue.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, map[string]float64{"discovery": 2.0}, drained[0].RewardWeights)

	// Subscribers attached after Start see the next publish.
	broadcast := b.broadcast.(*WebSocketBroadcast)
	require.Eventually(t, func() bool { return broadcast.Subscribers() == 1 }, 3*time.Second, 5*time.Millisecond)
	b.Publish(sampleState(), sampleObservation(), core.Info{"timestep": 42.0})

	require.NoError(t, subscriber.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := subscriber.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, 42.0, frame["timestep"])

	require.NoError(t, b.Stop())
}

func TestBridgeManySequentialDirectives(t *testing.T) {
	b := newTestBridge(t, localConfig())
	b.RegisterHandler(func(ctx context.Context, d Directive) error { return nil })
	require.NoError(t, b.Start(context.Background()))

	control := dialWebSocket(t, b.RequestAddr())
	for i := 0; i < 1000; i++ {
		ack := sendDirective(t, control, `{"reward_weights": {"exploration_bias": 0.1}}`)
		require.Equal(t, StatusOK, ack.Status, "cycle %d", i)
	}
}

func TestBridgeStopWithBusyHandler(t *testing.T) {
	requests := newMemoryRequests()
	b := newTestBridge(t, localConfig(),
		WithChannels(&memoryBroadcast{}, requests),
		WithJoinTimeout(50*time.Millisecond),
	)
	release := make(chan struct{})
	entered := make(chan struct{})
	b.RegisterHandler(func(ctx context.Context, d Directive) error {
		close(entered)
		<-release
		return nil
	})
	require.NoError(t, b.Start(context.Background()))

	requests.requests <- memoryRequest{payload: []byte(`{}`), reply: make(chan []byte, 1)}
	<-entered

	start := time.Now()
	require.NoError(t, b.Stop())
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	select {
	case <-b.ListenerDone():
	case <-time.After(time.Second):
		t.Fatal("listener did not exit once the handler returned")
	}
}
