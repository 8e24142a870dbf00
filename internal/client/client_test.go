package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/silentsky/pkg/core"
	"github.com/boristopalov/silentsky/pkg/messaging"
)

func startBridge(t *testing.T) (*messaging.Bridge, *messaging.DirectiveQueue) {
	t.Helper()
	b := messaging.New(messaging.Config{
		Enabled:     true,
		PublishAddr: "127.0.0.1:0",
		RequestAddr: "127.0.0.1:0",
	},
		messaging.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		messaging.WithSettleDelay(0),
		messaging.WithPollTimeout(10*time.Millisecond),
	)
	queue := messaging.NewDirectiveQueue(8)
	b.RegisterHandler(queue.Enqueue)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })
	return b, queue
}

func TestControllerSend(t *testing.T) {
	b, queue := startBridge(t)
	ctx := context.Background()

	c, err := Dial(ctx, b.RequestAddr())
	require.NoError(t, err)
	defer c.Close()

	ack, err := c.Send(ctx, messaging.RewardWeightsDirective(map[string]float64{"discovery": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusOK, ack.Status)

	ack, err = c.SendRaw(ctx, []byte(`{"upgrade": 5}`))
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusError, ack.Status)
	assert.Contains(t, ack.Message, "invalid directive")

	ack, err = c.Send(ctx, messaging.UpgradeDirective("sensor_quality"))
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusOK, ack.Status)

	drained := queue.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, map[string]float64{"discovery": 2.0}, drained[0].RewardWeights)
	assert.Equal(t, "sensor_quality", drained[1].Upgrade)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Send(ctx, messaging.UpgradeDirective("x"))
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	b, _ := startBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan messaging.Snapshot, 1)
	errDone := errors.New("done")
	result := make(chan error, 1)
	go func() {
		result <- Subscribe(ctx, b.PublishAddr(), func(snap messaging.Snapshot, err error) error {
			if err != nil {
				return err
			}
			received <- snap
			return errDone
		})
	}()

	state := core.State{Timestep: 12, Budget: 640, Sectors: []core.Sector{{SectorID: 0, SensorReading: 0.5}}}
	obs := core.Observation{SensorReadings: []float64{0.5}, SensorConfidence: []float64{0.7}}

	// Snapshots published before the subscriber attaches are lost, so keep
	// publishing until one arrives.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	var snap messaging.Snapshot
loop:
	for {
		select {
		case snap = <-received:
			break loop
		case <-ticker.C:
			b.Publish(state, obs, core.Info{"profit": -10.0})
		case <-ctx.Done():
			t.Fatal("no snapshot received")
		}
	}

	assert.Equal(t, 12, snap.Timestep)
	assert.Equal(t, 640.0, snap.State.Budget)
	assert.Equal(t, -10.0, snap.Info["profit"])
	assert.ErrorIs(t, <-result, errDone)
}

func TestSubscribeEndsWithBridge(t *testing.T) {
	b, _ := startBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- Subscribe(ctx, b.PublishAddr(), func(messaging.Snapshot, error) error { return nil })
	}()

	// Give the subscriber time to attach, then shut the bridge down.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, b.Stop())

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("subscriber did not notice the bridge stopping")
	}
}

func TestSubscribeCancelled(t *testing.T) {
	b, _ := startBridge(t)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- Subscribe(ctx, b.PublishAddr(), func(messaging.Snapshot, error) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber ignored cancellation")
	}
}
