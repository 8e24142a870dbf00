package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boristopalov/silentsky/pkg/core"
)

const (
	DefaultSettleDelay = 100 * time.Millisecond
	DefaultPollTimeout = 100 * time.Millisecond
	DefaultJoinTimeout = time.Second
)

type bridgeState int

const (
	bridgeIdle bridgeState = iota
	bridgeRunning
	bridgeStopped
)

func (s bridgeState) String() string {
	switch s {
	case bridgeIdle:
		return "idle"
	case bridgeRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Bridge connects a simulation loop to an external control client. It
// publishes a snapshot after every step on a broadcast channel and serves
// directives on a request channel from its own goroutine.
type Bridge struct {
	cfg         Config
	logger      *slog.Logger
	settleDelay time.Duration
	pollTimeout time.Duration
	joinTimeout time.Duration

	broadcast BroadcastChannel
	requests  RequestChannel
	handler   atomic.Pointer[DirectiveHandler]

	mu       sync.RWMutex
	state    bridgeState
	listener *DirectiveListener
	cancel   context.CancelFunc
}

type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithSettleDelay sets the pause after binding the broadcast endpoint.
// The pause gives early subscribers a chance to attach before the first
// publish. It is best-effort: a snapshot published before a subscriber
// connects is still lost.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bridge) {
		b.settleDelay = d
	}
}

func WithPollTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.pollTimeout = d
	}
}

func WithJoinTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.joinTimeout = d
	}
}

// WithChannels replaces the default WebSocket channels.
func WithChannels(broadcast BroadcastChannel, requests RequestChannel) Option {
	return func(b *Bridge) {
		b.broadcast = broadcast
		b.requests = requests
	}
}

// New creates a bridge. Nothing is bound until Start.
func New(cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:         cfg,
		settleDelay: DefaultSettleDelay,
		pollTimeout: DefaultPollTimeout,
		joinTimeout: DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Enabled reports whether the bridge does anything at all.
func (b *Bridge) Enabled() bool {
	return b.cfg.Enabled
}

// Start binds both endpoints and launches the directive listener. It
// returns once both endpoints accept traffic. A disabled bridge does
// nothing; a running bridge ignores the call.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case bridgeRunning:
		b.logger.Debug("bridge already started")
		return nil
	case bridgeStopped:
		return &LifecycleError{Op: "start", State: b.state.String()}
	}

	if b.broadcast == nil {
		b.broadcast = NewWebSocketBroadcast(WithEndpointLogger(b.logger))
	}
	if b.requests == nil {
		b.requests = NewWebSocketRequests(WithEndpointLogger(b.logger))
	}

	if err := b.broadcast.Bind(b.cfg.PublishAddr); err != nil {
		return asTransportError("bind broadcast", b.cfg.PublishAddr, err)
	}
	if b.settleDelay > 0 {
		time.Sleep(b.settleDelay)
	}
	if err := b.requests.Bind(b.cfg.RequestAddr); err != nil {
		b.broadcast.Close()
		return asTransportError("bind request", b.cfg.RequestAddr, err)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.listener = NewDirectiveListener(b.requests, b.currentHandler, b.pollTimeout, b.logger)
	if err := b.listener.Start(ctx); err != nil {
		b.cancel()
		b.requests.Close()
		b.broadcast.Close()
		return err
	}
	b.state = bridgeRunning

	b.logger.Info("bridge started",
		"publish_addr", b.PublishAddr(),
		"request_addr", b.RequestAddr(),
	)
	return nil
}

// RegisterHandler sets the directive handler, replacing any previous one.
// The handler runs on the listener goroutine.
func (b *Bridge) RegisterHandler(fn DirectiveHandler) {
	if fn == nil {
		b.handler.Store(nil)
		return
	}
	b.handler.Store(&fn)
}

func (b *Bridge) currentHandler() DirectiveHandler {
	if fn := b.handler.Load(); fn != nil {
		return *fn
	}
	return nil
}

// Publish broadcasts a snapshot of the step. Failures are logged, never
// returned, so the simulation loop cannot be stopped by the network.
func (b *Bridge) Publish(state core.State, obs core.Observation, info core.Info) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.RLock()
	running := b.state == bridgeRunning
	broadcast := b.broadcast
	b.mu.RUnlock()
	if !running {
		return
	}

	data, err := EncodeSnapshot(state, obs, info)
	if err != nil {
		b.logger.Error("snapshot encode failed", "timestep", state.Timestep, "error", err)
		return
	}
	if err := broadcast.Publish(data); err != nil {
		b.logger.Warn("snapshot publish failed",
			"timestep", state.Timestep,
			"error", asTransportError("publish", b.cfg.PublishAddr, err),
		)
	}
}

// Stop shuts the listener down, then closes both channels. It is safe to
// call more than once and on a bridge that never started.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != bridgeRunning {
		return nil
	}
	b.state = bridgeStopped

	exited := b.listener.Stop(b.joinTimeout)

	var errs []error
	if err := b.requests.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.broadcast.Close(); err != nil {
		errs = append(errs, err)
	}
	b.cancel()

	if !exited {
		// The closed channel ends the loop once the running handler returns.
		b.logger.Warn("directive listener still busy at stop; closed its channel")
	}
	b.logger.Info("bridge stopped")
	return errors.Join(errs...)
}

// ListenerState reports the directive listener's state.
func (b *Bridge) ListenerState() ListenerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ListenerIdle
	}
	return b.listener.State()
}

// ListenerDone is closed once the listener goroutine has returned. It is
// nil before Start.
func (b *Bridge) ListenerDone() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Done()
}

// PublishAddr returns the bound broadcast address when known.
func (b *Bridge) PublishAddr() string {
	if a, ok := b.broadcast.(Addresser); ok {
		if addr := a.Addr(); addr != "" {
			return addr
		}
	}
	return b.cfg.PublishAddr
}

// RequestAddr returns the bound request address when known.
func (b *Bridge) RequestAddr() string {
	if a, ok := b.requests.(Addresser); ok {
		if addr := a.Addr(); addr != "" {
			return addr
		}
	}
	return b.cfg.RequestAddr
}

func asTransportError(op, addr string, err error) error {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &TransportError{Op: op, Addr: addr, Err: err}
}
