package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/audit"
	"github.com/gdscore/scoreboard-server/internal/config"
	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/httputil"
	"github.com/gdscore/scoreboard-server/internal/hub"
	"github.com/gdscore/scoreboard-server/internal/metrics"
	"github.com/gdscore/scoreboard-server/internal/model"
	"github.com/gdscore/scoreboard-server/internal/ratelimit"
	"github.com/gdscore/scoreboard-server/internal/service"
	"github.com/gdscore/scoreboard-server/internal/socket"
	"github.com/gdscore/scoreboard-server/internal/util"
)

const (
	EventSync  = "sync"
	EventPower = "power"
	EventPing  = "ping"
)

type SocketHandler struct {
	upgrader     *websocket.Upgrader
	socketConfig socket.Config
	registry     *hub.Registry
	syncService  *service.SyncService
	powerService *service.PowerService
	limiter      ratelimit.Limiter
	messageLimit int

	mu    sync.Mutex
	conns map[*socket.Conn]struct{}
}

type SocketHandlerParams struct {
	Upgrader     *websocket.Upgrader
	SocketConfig socket.Config
	Registry     *hub.Registry
	SyncService  *service.SyncService
	PowerService *service.PowerService
	Limiter      ratelimit.Limiter
	MessageLimit int
}

func NewSocketHandler(p SocketHandlerParams) *SocketHandler {
	return &SocketHandler{
		upgrader:     p.Upgrader,
		socketConfig: p.SocketConfig,
		registry:     p.Registry,
		syncService:  p.SyncService,
		powerService: p.PowerService,
		limiter:      p.Limiter,
		messageLimit: p.MessageLimit,
		conns:        make(map[*socket.Conn]struct{}),
	}
}

// GET /socket?uuid=<session>&token=<secret>
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("uuid")
	token := r.URL.Query().Get("token")

	if sessionID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("uuid"))
		return
	}
	if !util.IsValidSessionID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("uuid", "invalid session id"))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := socket.NewConn(ws, sessionID, token, h.socketConfig)

	// A connection without a token may still issue requests but is never
	// added to a fan-out set.
	if token != "" && !h.registry.Register(sessionID, conn, token) {
		audit.LogFromRequest(r, audit.Event{
			Type:         audit.EventRegisterFailure,
			SessionID:    sessionID,
			ConnectionID: conn.ID(),
			Token:        token,
		})
		conn.Close(websocket.ClosePolicyViolation, "invalid token")
		return
	}

	h.track(conn)
	defer func() {
		h.registry.Unregister(conn)
		h.untrack(conn)
		log.Info().
			Str("sessionId", sessionID).
			Str("connectionId", conn.ID()).
			Msg("client disconnected")
	}()

	log.Info().
		Str("sessionId", sessionID).
		Str("connectionId", conn.ID()).
		Bool("registered", token != "").
		Msg("client connected")

	// Requests already being served finish even if the client goes away.
	conn.Run(context.WithoutCancel(r.Context()), h.dispatch)
}

func (h *SocketHandler) dispatch(ctx context.Context, c *socket.Conn, event string, data json.RawMessage) (any, bool) {
	if event == EventPing {
		return nil, false
	}

	if h.limiter != nil && h.messageLimit > 0 {
		allowed, _ := h.limiter.Allow(ctx, "conn:"+c.ID(), h.messageLimit, config.MessageRateWindow)
		if !allowed {
			log.Warn().
				Str("sessionId", c.SessionID()).
				Str("connectionId", c.ID()).
				Str("event", event).
				Msg("message rate limit exceeded")
			return statusReply(apperrors.RateLimitExceeded()), true
		}
	}

	switch event {
	case service.EventUpdate:
		var req model.UpdateRequest
		if err := decode(data, &req); err != nil {
			metrics.ProposalMalformed()
			return statusReply(apperrors.InvalidInput("update", err.Error())), true
		}
		return h.syncService.Update(ctx, c.SessionID(), c.Token(), req), true

	case EventSync:
		snap, ok := h.syncService.Snapshot(c.SessionID(), c.Token())
		if !ok {
			return nil, false
		}
		return service.SnapshotResult{Status: http.StatusOK, Snapshot: snap}, true

	case EventPower:
		var req model.PowerRequest
		if err := decode(data, &req); err != nil {
			return statusReply(apperrors.InvalidInput("power", err.Error())), true
		}
		return socket.StatusReply{Status: h.powerService.Power(ctx, c.SessionID(), c.Token(), req)}, true

	default:
		log.Debug().
			Str("connectionId", c.ID()).
			Str("event", event).
			Msg("unknown event")
		return statusReply(apperrors.InvalidInput("event", "unknown event "+event)), true
	}
}

// CloseAll disconnects every live client. Used on shutdown.
func (h *SocketHandler) CloseAll() {
	h.mu.Lock()
	conns := make([]*socket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *SocketHandler) track(c *socket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *SocketHandler) untrack(c *socket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func statusReply(err error) socket.StatusReply {
	return socket.StatusReply{Status: httputil.StatusFromError(err)}
}
