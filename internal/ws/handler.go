// Package ws is the playback surface: one websocket connection per viewer,
// multiplexing playback commands inbound and state/batch events outbound.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/metrics"
	"github.com/pitwall-labs/telemetry-replay/internal/replay"
)

// Handler upgrades connections on /ws/telemetry/{sessionKey} and runs the
// per-client read loops plus one broadcast loop per session. A single ticker
// drives each session's clock and fans every batch out to all attached
// viewers, so concurrent clients on the same session see the same stream
// batch-for-batch.
type Handler struct {
	engine *replay.Engine
	logger *logger.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*clientSession]struct{}
	streams map[string]*stream
}

// stream is the broadcast group for one session: the clients currently
// receiving batches and the cancel handle for the group's loop.
type stream struct {
	cancel  context.CancelFunc
	clients map[*clientSession]struct{}
}

// NewHandler creates the websocket handler.
func NewHandler(engine *replay.Engine, log *logger.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: log.WithComponent("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The session catalog is public read-only data; origin checks
			// are left to the deployment's proxy layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*clientSession]struct{}),
		streams: make(map[string]*stream),
	}
}

// HandleTelemetry is the gin handler for GET /ws/telemetry/:sessionKey.
func (h *Handler) HandleTelemetry(c *gin.Context) {
	sessionKey := c.Param("sessionKey")
	if sessionKey == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()))
		return
	}

	client := newClientSession(uuid.New().String(), sessionKey,
		conn, h.logger.WithSession(sessionKey))

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectedClients.Inc()

	h.engine.ClientJoined(sessionKey)

	h.logger.Info("client connected",
		slog.String("connection_id", client.id),
		slog.String("session_key", sessionKey))

	go client.writePump()

	// Send initial state so a reconnecting viewer can restore its UI.
	// Data is null when the server holds no state for the session.
	client.enqueueControl(stateEvent(h.engine.GetState(sessionKey)))

	h.readLoop(client)
}

// readLoop consumes inbound frames until the connection drops.
func (h *Handler) readLoop(client *clientSession) {
	defer h.disconnect(client)

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed unexpectedly",
					slog.String("connection_id", client.id),
					slog.String("error", err.Error()))
			}
			return
		}

		cmd, err := DecodeCommand(payload)
		if err != nil {
			// Malformed frames keep the connection open.
			client.enqueueControl(errorEvent(err.Error()))
			continue
		}

		h.handleCommand(client, cmd)
	}
}

// disconnect tears down a client and notifies the engine, which preserves
// playback position when this was the session's last subscriber.
func (h *Handler) disconnect(client *clientSession) {
	h.mu.Lock()
	_, known := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !known {
		return
	}

	h.detach(client)
	client.close()
	metrics.ConnectedClients.Dec()
	h.engine.ClientLeft(client.sessionKey)

	h.logger.Info("client disconnected",
		slog.String("connection_id", client.id),
		slog.String("session_key", client.sessionKey))
}

func (h *Handler) handleCommand(client *clientSession, cmd Command) {
	key := client.sessionKey

	switch cmd.Type {
	case CmdSubscribe:
		h.attach(client)
		client.enqueueControl(Frame{Type: EvtSubscribed, Data: map[string]string{"sessionKey": key}})

	case CmdUnsubscribe:
		h.detach(client)
		client.enqueueControl(Frame{Type: EvtUnsubscribed, Data: nil})

	case CmdPlay:
		// Attach before the engine starts playing so the first tick's batch
		// cannot slip past this client.
		added := h.attach(client)
		state, err := h.engine.Play(client.ctx, key, cmd.StartTime)
		if err != nil {
			if added {
				h.detach(client)
			}
			h.sendEngineError(client, cmd.Type, err)
			return
		}
		client.enqueueControl(stateEvent(state))

	case CmdPause:
		state, err := h.engine.Pause(key)
		if err != nil {
			h.sendEngineError(client, cmd.Type, err)
			return
		}
		client.enqueueControl(stateEvent(state))

	case CmdStop:
		state, err := h.engine.Stop(key)
		if err != nil {
			h.sendEngineError(client, cmd.Type, err)
			return
		}
		client.enqueueControl(stateEvent(state))

	case CmdSeek:
		state, err := h.engine.Seek(client.ctx, key, cmd.TargetTime)
		if err != nil {
			h.sendEngineError(client, cmd.Type, err)
			return
		}
		client.enqueueControl(stateEvent(state))

	case CmdSpeed:
		state, err := h.engine.SetSpeed(key, cmd.Speed)
		if err != nil {
			h.sendEngineError(client, cmd.Type, err)
			return
		}
		client.enqueueControl(stateEvent(state))

	case CmdGetState:
		client.enqueueControl(stateEvent(h.engine.GetState(key)))
	}
}

// attach adds a client to its session's broadcast group, starting the
// group's loop when it is the first member. Reports whether the client
// was newly added.
func (h *Handler) attach(client *clientSession) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[client.sessionKey]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		st = &stream{cancel: cancel, clients: make(map[*clientSession]struct{})}
		h.streams[client.sessionKey] = st
		go h.runStream(ctx, client.sessionKey, st)

		h.logger.Debug("started session broadcast",
			slog.String("session_key", client.sessionKey))
	}
	if _, member := st.clients[client]; member {
		return false
	}
	st.clients[client] = struct{}{}
	return true
}

// detach removes a client from its session's broadcast group; the last
// member out stops the loop.
func (h *Handler) detach(client *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[client.sessionKey]
	if !ok {
		return
	}
	delete(st.clients, client)
	if len(st.clients) == 0 {
		delete(h.streams, client.sessionKey)
		st.cancel()
	}
}

// subscribers snapshots a broadcast group's membership.
func (h *Handler) subscribers(st *stream) []*clientSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*clientSession, 0, len(st.clients))
	for c := range st.clients {
		out = append(out, c)
	}
	return out
}

// runStream is the per-session broadcast loop. Exactly one runs per session,
// so the clock advances once per tick no matter how many viewers are
// attached; every pulled batch goes to all of them. Ticks while nothing is
// playing are no-ops, which also covers viewers who subscribe before the
// first play.
func (h *Handler) runStream(ctx context.Context, sessionKey string, st *stream) {
	ticker := time.NewTicker(h.engine.BatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, completed := h.engine.NextBatch(ctx, sessionKey)

			if completed {
				for _, c := range h.subscribers(st) {
					c.enqueueControl(Frame{Type: EvtPlaybackComplete, Data: nil})
				}
				continue
			}
			if batch == nil {
				continue
			}

			frame := batchEvent(batch)
			for _, c := range h.subscribers(st) {
				c.enqueueBatch(frame)
			}
			metrics.BatchesSent.Inc()
		}
	}
}

func (h *Handler) sendEngineError(client *clientSession, cmdType string, err error) {
	switch {
	case errors.Is(err, replay.ErrUnknownSession),
		errors.Is(err, replay.ErrNoActiveSession),
		errors.Is(err, replay.ErrInvalidTime),
		errors.Is(err, replay.ErrInvalidSpeed):
		client.enqueueControl(errorEvent(err.Error()))
	default:
		h.logger.Error("command failed",
			slog.String("connection_id", client.id),
			slog.String("command", cmdType),
			slog.String("error", err.Error()))
		client.enqueueControl(errorEvent("Internal error processing command"))
	}
}

// Shutdown notifies every connected client and closes the connections.
// Called during server drain; in-memory playback state is not persisted.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	for key, st := range h.streams {
		st.cancel()
		delete(h.streams, key)
	}
	clients := make([]*clientSession, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.enqueueControl(errorEvent("server shutting down"))
		h.disconnect(client)
	}

	h.logger.Info("websocket handler shutdown complete",
		slog.Int("clients_closed", len(clients)))
}
