// Package client speaks the bridge wire protocol from the control side:
// it follows the snapshot broadcast and sends directives.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boristopalov/silentsky/pkg/messaging"
)

const defaultTimeout = 5 * time.Second

func endpointURL(addr string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	return u.String()
}

func dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpointURL(addr), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// Subscribe follows the snapshot broadcast at addr and calls fn for every
// snapshot until ctx is done, the connection drops, or fn returns an
// error. A frame that fails to decode is passed to fn as its error.
func Subscribe(ctx context.Context, addr string, fn func(messaging.Snapshot, error) error) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := fn(messaging.DecodeSnapshot(data)); err != nil {
			return err
		}
	}
}

// Controller sends directives to the bridge request endpoint. Calls are
// serialized; each Send waits for its acknowledgment.
type Controller struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial connects a controller to the request endpoint at addr.
func Dial(ctx context.Context, addr string) (*Controller, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Controller{conn: conn, timeout: defaultTimeout}, nil
}

// SetTimeout bounds how long Send waits for a reply.
func (c *Controller) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Send encodes d and waits for the acknowledgment.
func (c *Controller) Send(ctx context.Context, d messaging.Directive) (messaging.AckResponse, error) {
	payload, err := messaging.EncodeDirective(d)
	if err != nil {
		return messaging.AckResponse{}, fmt.Errorf("encode directive: %w", err)
	}
	return c.SendRaw(ctx, payload)
}

// SendRaw sends payload as is and waits for the acknowledgment.
func (c *Controller) SendRaw(ctx context.Context, payload []byte) (messaging.AckResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return messaging.AckResponse{}, errors.New("controller closed")
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return messaging.AckResponse{}, fmt.Errorf("send directive: %w", err)
	}
	c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return messaging.AckResponse{}, ctx.Err()
		}
		return messaging.AckResponse{}, fmt.Errorf("await ack: %w", err)
	}
	return messaging.DecodeAck(data)
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
