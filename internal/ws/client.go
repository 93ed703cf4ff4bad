package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/metrics"
)

const (
	// sendBufferSize is the capacity of the per-client outbound queue.
	// Outbound frames are never queued unboundedly: when the queue is full
	// a telemetry batch is dropped rather than blocking the tick.
	sendBufferSize = 32

	// writeTimeout bounds a single websocket write.
	writeTimeout = 5 * time.Second

	// controlSendTimeout is how long control frames (state, errors) may wait
	// for queue space before the client is considered broken.
	controlSendTimeout = 1 * time.Second
)

// clientSession is one logical subscriber: a websocket connection bound to
// a single session key with its own outbound queue. Batch delivery comes
// from the handler's per-session broadcast loop.
type clientSession struct {
	id         string
	sessionKey string
	conn       *websocket.Conn
	logger     *logger.Logger

	// send is drained by the single writer goroutine; gorilla connections
	// allow only one concurrent writer.
	send chan Frame

	// ctx is cancelled when the connection goes away.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newClientSession(id, sessionKey string, conn *websocket.Conn, log *logger.Logger) *clientSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &clientSession{
		id:         id,
		sessionKey: sessionKey,
		conn:       conn,
		logger:     log,
		send:       make(chan Frame, sendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// writePump serializes all writes to the connection. It exits when the
// client context is cancelled or a write fails; a failed write is treated
// as a disconnect by the read loop noticing the closed connection.
func (c *clientSession) writePump() {
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("websocket write failed, closing",
					slog.String("error", err.Error()))
				c.conn.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueueBatch offers a telemetry batch to the outbound queue without
// blocking. A full queue means the client cannot keep up with the tick
// rate; the batch is dropped and counted.
func (c *clientSession) enqueueBatch(frame Frame) {
	select {
	case c.send <- frame:
	default:
		metrics.FramesDropped.Inc()
		c.logger.Warn("dropping telemetry batch, client cannot keep up",
			slog.String("session_key", c.sessionKey))
	}
}

// enqueueControl queues a control frame (state, subscribe acks, errors),
// waiting briefly for space. Returns false if the client is gone or wedged.
func (c *clientSession) enqueueControl(frame Frame) bool {
	select {
	case c.send <- frame:
		return true
	case <-time.After(controlSendTimeout):
		metrics.FramesDropped.Inc()
		c.logger.Warn("dropping control frame, outbound queue wedged",
			slog.String("session_key", c.sessionKey),
			slog.String("type", frame.Type))
		return false
	case <-c.ctx.Done():
		return false
	}
}

// close tears the client down exactly once.
func (c *clientSession) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close()
}
