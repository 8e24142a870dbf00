package messaging

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var _ RequestChannel = (*WebSocketRequests)(nil)

type pendingRequest struct {
	payload []byte
	reply   chan []byte
	written chan error
}

// WebSocketRequests serves strict request/reply over WebSocket. Every text
// frame a client sends is one request; the connection's next frame is not
// read until the previous request has been answered, so requests are
// serviced one at a time in arrival order.
type WebSocketRequests struct {
	endpoint *wsEndpoint
	requests chan *pendingRequest

	mu      sync.Mutex
	pending *pendingRequest
}

// NewWebSocketRequests creates an unbound request channel.
func NewWebSocketRequests(opts ...EndpointOption) *WebSocketRequests {
	r := &WebSocketRequests{requests: make(chan *pendingRequest)}
	r.endpoint = newEndpoint("request", newEndpointParams(opts), r.serveClient)
	return r
}

func (r *WebSocketRequests) Bind(addr string) error {
	return r.endpoint.bind(addr)
}

// Poll waits up to timeout for the next request. It returns ok=false when
// nothing arrived in time.
func (r *WebSocketRequests) Poll(timeout time.Duration) ([]byte, bool, error) {
	r.mu.Lock()
	if r.pending != nil {
		r.mu.Unlock()
		return nil, false, ErrReplyPending
	}
	r.mu.Unlock()

	if r.endpoint.isClosed() {
		return nil, false, ErrChannelClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case req := <-r.requests:
		r.mu.Lock()
		r.pending = req
		r.mu.Unlock()
		return req.payload, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-r.endpoint.done:
		return nil, false, ErrChannelClosed
	}
}

// Reply answers the request returned by the last Poll and waits until the
// frame has been written to the client.
func (r *WebSocketRequests) Reply(payload []byte) error {
	r.mu.Lock()
	req := r.pending
	r.pending = nil
	r.mu.Unlock()

	if req == nil {
		if r.endpoint.isClosed() {
			return ErrChannelClosed
		}
		return ErrNoPendingRequest
	}

	req.reply <- payload
	select {
	case err := <-req.written:
		if err != nil {
			return &TransportError{Op: "reply", Addr: r.endpoint.addr(), Err: err}
		}
		return nil
	case <-r.endpoint.done:
		return ErrChannelClosed
	}
}

func (r *WebSocketRequests) Close() error {
	return r.endpoint.close()
}

// Addr returns the bound address, or "" before Bind.
func (r *WebSocketRequests) Addr() string {
	return r.endpoint.addr()
}

func (r *WebSocketRequests) serveClient(conn *websocket.Conn) {
	logger := r.endpoint.params.logger
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		req := &pendingRequest{
			payload: payload,
			reply:   make(chan []byte, 1),
			written: make(chan error, 1),
		}
		select {
		case r.requests <- req:
		case <-r.endpoint.done:
			return
		}

		select {
		case reply := <-req.reply:
			err := r.endpoint.writeFrame(conn, reply)
			req.written <- err
			if err != nil {
				logger.Debug("reply write failed", "remote_addr", conn.RemoteAddr().String(), "error", err)
				return
			}
		case <-r.endpoint.done:
			return
		}
	}
}
