package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tarot-live/contract"
	"tarot-live/domain/event"
)

const (
	writeDeadline = 10 * time.Second

	// pingPeriod drives the websocket-level keepalive. It must stay well
	// under the coordinator's heartbeat timeout so an idle but healthy
	// client keeps refreshing its liveness through pong replies.
	pingPeriod = 15 * time.Second
)

// wsClient adapts one websocket to the coordinator's EventSink.
// Fanned-out events and handler replies both pass through the buffered
// outbound channel; a single write pump drains it, which keeps the gorilla
// single-writer rule and preserves the order events were enqueued in.
type wsClient struct {
	conn *websocket.Conn
	out  chan outboundFrame
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ contract.EventSink = (*wsClient)(nil)

func newWSClient(conn *websocket.Conn, bufferSize int, log *slog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		out:  make(chan outboundFrame, bufferSize),
		log:  log,
		done: make(chan struct{}),
	}
}

// Consume is called by the fanout worker. The event is translated to its
// wire frame and handed to the write pump. A client too slow to drain its
// buffer loses the event; durable delivery is not this channel's job.
func (c *wsClient) Consume(ctx context.Context, e event.DomainEvent) error {
	frame, ok := frameFor(e)
	if !ok {
		return nil
	}
	return c.send(ctx, frame)
}

func (c *wsClient) send(ctx context.Context, frame outboundFrame) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- frame:
		return nil
	default:
		c.log.Debug("Outbound buffer full, dropping frame", "frame_type", frame.Type)
		return nil
	}
}

// reply enqueues a handler response (ack or error) for the write pump.
func (c *wsClient) reply(frame outboundFrame) {
	select {
	case <-c.done:
	case c.out <- frame:
	default:
		c.log.Debug("Outbound buffer full, dropping reply", "frame_type", frame.Type)
	}
}

// writePump is the only goroutine writing to the websocket. It also owns
// the keepalive pings; the client's pong replies feed the heartbeat.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed, stopping write pump", "error", err)
				return
			}
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Debug("Write failed, stopping write pump", "error", err)
				return
			}
		}
	}
}

// Close stops the write pump and closes the underlying socket, which also
// unblocks the read pump. Safe to call from any goroutine, any number of
// times; both the transport loop and coordinator teardown go through it.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
