package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ListenerState is the lifecycle position of a DirectiveListener.
type ListenerState int32

const (
	ListenerIdle ListenerState = iota
	ListenerRunning
	ListenerStopping
	ListenerStopped
)

func (s ListenerState) String() string {
	switch s {
	case ListenerIdle:
		return "idle"
	case ListenerRunning:
		return "running"
	case ListenerStopping:
		return "stopping"
	case ListenerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ListenerState(%d)", int32(s))
	}
}

var errNoHandler = errors.New("no handler registered")

// DirectiveListener polls a RequestChannel on its own goroutine, decodes
// each request, runs the current handler and replies. A failing directive
// never ends the loop; only Stop or a closed channel does.
type DirectiveListener struct {
	channel     RequestChannel
	handler     func() DirectiveHandler
	pollTimeout time.Duration
	logger      *slog.Logger

	state   atomic.Int32
	running atomic.Bool
	done    chan struct{}
	mu      sync.Mutex
}

// NewDirectiveListener creates an idle listener. handler is consulted for
// every request so a replaced handler takes effect on the next directive.
func NewDirectiveListener(channel RequestChannel, handler func() DirectiveHandler, pollTimeout time.Duration, logger *slog.Logger) *DirectiveListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectiveListener{
		channel:     channel,
		handler:     handler,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// State returns the current lifecycle state.
func (l *DirectiveListener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Start launches the polling goroutine. It only acts from Idle.
func (l *DirectiveListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CompareAndSwap(int32(ListenerIdle), int32(ListenerRunning)) {
		return &LifecycleError{Op: "start listener", State: l.State().String()}
	}
	l.running.Store(true)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		l.loop(ctx)
	}()
	return nil
}

// Stop clears the running flag and waits up to joinTimeout for the loop to
// exit. It reports whether the loop exited in time. Stop does not close the
// channel.
func (l *DirectiveListener) Stop(joinTimeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CompareAndSwap(int32(ListenerRunning), int32(ListenerStopping)) {
		return true
	}
	l.running.Store(false)

	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()

	exited := true
	select {
	case <-l.done:
	case <-timer.C:
		exited = false
		l.logger.Warn("directive listener did not exit within join timeout", "timeout", joinTimeout)
	}
	l.state.Store(int32(ListenerStopped))
	return exited
}

// Done is closed when the polling goroutine has returned. It is nil before
// Start.
func (l *DirectiveListener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *DirectiveListener) loop(ctx context.Context) {
	for l.running.Load() {
		payload, ok, err := l.channel.Poll(l.pollTimeout)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return
			}
			l.logger.Error("directive poll failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		ack := l.process(ctx, payload)
		if err := l.channel.Reply(EncodeAck(ack)); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return
			}
			l.logger.Warn("directive reply failed", "error", err)
		}
	}
}

// process turns one request into exactly one acknowledgment.
func (l *DirectiveListener) process(ctx context.Context, payload []byte) AckResponse {
	directive, err := DecodeDirective(payload)
	if err != nil {
		l.logger.Warn("rejected directive", "error", err)
		return errorAck(err)
	}

	var handler DirectiveHandler
	if l.handler != nil {
		handler = l.handler()
	}
	if handler == nil {
		return errorAck(errNoHandler)
	}

	if err := invoke(ctx, handler, directive); err != nil {
		l.logger.Warn("directive handler failed", "error", err)
		return errorAck(err)
	}
	if len(directive.Ignored) > 0 {
		l.logger.Debug("ignored directive keys", "count", len(directive.Ignored))
	}
	return okAck()
}

func invoke(ctx context.Context, handler DirectiveHandler, d Directive) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := handler(ctx, d); err != nil {
		return &HandlerError{Err: err}
	}
	return nil
}
