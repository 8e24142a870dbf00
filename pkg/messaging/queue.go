package messaging

import (
	"context"
)

// DirectiveQueue hands directives from the listener goroutine to the
// simulation loop. Enqueue never blocks; the loop calls Drain once per step
// so every mutation happens on the loop's goroutine in step order.
type DirectiveQueue struct {
	ch chan Directive
}

// NewDirectiveQueue creates a queue holding at most capacity directives.
func NewDirectiveQueue(capacity int) *DirectiveQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &DirectiveQueue{ch: make(chan Directive, capacity)}
}

// Enqueue is a DirectiveHandler. It fails with ErrQueueFull rather than
// stall the listener when the loop has fallen behind.
func (q *DirectiveQueue) Enqueue(ctx context.Context, d Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain returns every queued directive in arrival order without waiting.
func (q *DirectiveQueue) Drain() []Directive {
	var out []Directive
	for {
		select {
		case d := <-q.ch:
			out = append(out, d)
		default:
			return out
		}
	}
}

// Len returns the number of queued directives.
func (q *DirectiveQueue) Len() int {
	return len(q.ch)
}
