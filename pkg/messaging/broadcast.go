package messaging

import (
	"github.com/gorilla/websocket"
)

var _ BroadcastChannel = (*WebSocketBroadcast)(nil)

// WebSocketBroadcast publishes frames to every WebSocket client attached to
// its address. Each subscriber has its own bounded queue drained by a
// writer goroutine, so Publish never waits on a client.
type WebSocketBroadcast struct {
	broker   *Broker
	endpoint *wsEndpoint
}

// NewWebSocketBroadcast creates an unbound broadcast channel.
func NewWebSocketBroadcast(opts ...EndpointOption) *WebSocketBroadcast {
	b := &WebSocketBroadcast{broker: NewBroker()}
	b.endpoint = newEndpoint("broadcast", newEndpointParams(opts), b.serveSubscriber)
	return b
}

func (b *WebSocketBroadcast) Bind(addr string) error {
	return b.endpoint.bind(addr)
}

// Publish hands payload to the attached subscribers. With no subscribers
// the frame is dropped. After Close it does nothing.
func (b *WebSocketBroadcast) Publish(payload []byte) error {
	if b.endpoint.isClosed() {
		return nil
	}
	b.broker.Publish(payload)
	return nil
}

func (b *WebSocketBroadcast) Close() error {
	err := b.endpoint.close()
	b.broker.Reset()
	return err
}

// Addr returns the bound address, or "" before Bind.
func (b *WebSocketBroadcast) Addr() string {
	return b.endpoint.addr()
}

// Subscribers returns the number of attached clients.
func (b *WebSocketBroadcast) Subscribers() int {
	return b.broker.Len()
}

// Dropped returns the number of frames skipped for slow subscribers.
func (b *WebSocketBroadcast) Dropped() uint64 {
	return b.broker.Dropped()
}

func (b *WebSocketBroadcast) serveSubscriber(conn *websocket.Conn) {
	logger := b.endpoint.params.logger
	frames := make(chan []byte, b.endpoint.params.subscriberQueue)
	id := b.broker.Subscribe(frames)
	defer b.broker.Unsubscribe(id)

	// Subscribers never send; reading only surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frames:
			if err := b.endpoint.writeFrame(conn, frame); err != nil {
				logger.Debug("subscriber write failed", "subscriber", id, "error", err)
				return
			}
		case <-gone:
			return
		case <-b.endpoint.done:
			return
		}
	}
}
