package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectiveQueue(t *testing.T) {
	queue := NewDirectiveQueue(2)
	ctx := context.Background()

	assert.Empty(t, queue.Drain())

	require.NoError(t, queue.Enqueue(ctx, Directive{Upgrade: "sensor_quality"}))
	require.NoError(t, queue.Enqueue(ctx, Directive{Upgrade: "field_of_view"}))
	assert.Equal(t, 2, queue.Len())

	// Full queues refuse instead of blocking the listener
	assert.ErrorIs(t, queue.Enqueue(ctx, Directive{Upgrade: "reaction_speed"}), ErrQueueFull)

	drained := queue.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "sensor_quality", drained[0].Upgrade)
	assert.Equal(t, "field_of_view", drained[1].Upgrade)
	assert.Zero(t, queue.Len())
}

func TestDirectiveQueueCancelled(t *testing.T) {
	queue := NewDirectiveQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, queue.Enqueue(ctx, Directive{}), context.Canceled)
	assert.Zero(t, queue.Len())
}
