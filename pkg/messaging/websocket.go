package messaging

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait       = 5 * time.Second
	defaultSubscriberQueue = 16
)

// EndpointOption configures a WebSocket channel.
type EndpointOption func(*endpointParams)

type endpointParams struct {
	logger          *slog.Logger
	writeWait       time.Duration
	subscriberQueue int
}

// WithEndpointLogger sets the logger used for connection events.
func WithEndpointLogger(logger *slog.Logger) EndpointOption {
	return func(p *endpointParams) {
		p.logger = logger
	}
}

// WithWriteWait bounds how long a single frame write may take.
func WithWriteWait(d time.Duration) EndpointOption {
	return func(p *endpointParams) {
		p.writeWait = d
	}
}

// WithSubscriberQueue sets how many frames may wait for one slow
// subscriber before frames are dropped for it.
func WithSubscriberQueue(n int) EndpointOption {
	return func(p *endpointParams) {
		p.subscriberQueue = n
	}
}

func newEndpointParams(opts []EndpointOption) endpointParams {
	params := endpointParams{
		writeWait:       defaultWriteWait,
		subscriberQueue: defaultSubscriberQueue,
	}
	for _, opt := range opts {
		opt(&params)
	}
	if params.logger == nil {
		params.logger = slog.Default()
	}
	if params.subscriberQueue < 1 {
		params.subscriberQueue = 1
	}
	return params
}

// wsEndpoint is an HTTP listener that upgrades every request to a
// WebSocket and hands the connection to serve. It tracks hijacked
// connections itself since http.Server.Close does not know about them.
type wsEndpoint struct {
	name     string
	params   endpointParams
	upgrader websocket.Upgrader
	serve    func(conn *websocket.Conn)

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	conns    map[*websocket.Conn]struct{}
	closed   bool
	done     chan struct{}
	active   sync.WaitGroup
}

func newEndpoint(name string, params endpointParams, serve func(conn *websocket.Conn)) *wsEndpoint {
	return &wsEndpoint{
		name:   name,
		params: params,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		serve: serve,
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

func (e *wsEndpoint) bind(addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return &TransportError{Op: "bind", Addr: addr, Err: ErrChannelClosed}
	}
	if e.listener != nil {
		return &TransportError{Op: "bind", Addr: addr, Err: errors.New("already bound")}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &TransportError{Op: "bind", Addr: addr, Err: err}
	}
	e.listener = listener
	e.server = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.active.Add(1)
	go func() {
		defer e.active.Done()
		if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.params.logger.Error("endpoint serve failed", "endpoint", e.name, "error", err)
		}
	}()

	e.params.logger.Info("endpoint bound", "endpoint", e.name, "addr", listener.Addr().String())
	return nil
}

// ServeHTTP upgrades the request and runs serve until it returns.
func (e *wsEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.params.logger.Debug("upgrade failed", "endpoint", e.name, "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conns[conn] = struct{}{}
	e.active.Add(1)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.conns, conn)
		e.mu.Unlock()
		conn.Close()
		e.active.Done()
	}()

	e.params.logger.Debug("client connected", "endpoint", e.name, "remote_addr", conn.RemoteAddr().String())
	e.serve(conn)
	e.params.logger.Debug("client disconnected", "endpoint", e.name, "remote_addr", conn.RemoteAddr().String())
}

func (e *wsEndpoint) addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

func (e *wsEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *wsEndpoint) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)

	var err error
	if e.server != nil {
		err = e.server.Close()
	}
	deadline := time.Now().Add(time.Second)
	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	for conn := range e.conns {
		conn.WriteControl(websocket.CloseMessage, goingAway, deadline)
		conn.Close()
	}
	e.mu.Unlock()

	e.active.Wait()
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

func (e *wsEndpoint) writeFrame(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(e.params.writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
