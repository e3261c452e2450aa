package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/config"
)

var (
	ErrClosed       = errors.New("socket: connection closed")
	ErrSlowConsumer = errors.New("socket: send buffer full")
)

type Config struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   config.SocketWriteTimeout,
		PongTimeout:    config.SocketPongTimeout,
		PingInterval:   config.SocketPingInterval,
		MaxMessageSize: config.SocketMaxMessageSize,
		SendBuffer:     config.SocketSendBuffer,
	}
}

// Handler serves one inbound request. When ok is true and the request carried an
// id, reply is sent back as the acknowledgment.
type Handler func(ctx context.Context, c *Conn, event string, data json.RawMessage) (reply any, ok bool)

// Conn is one client websocket. All writes go through a single write pump;
// requests are served concurrently so a handler may wait for acknowledgments
// that arrive on the same connection.
type Conn struct {
	id        string
	sessionID string
	token     string
	ws        *websocket.Conn
	cfg       Config

	send   chan []byte
	done   chan struct{}
	closed sync.Once
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan json.RawMessage
}

func NewConn(ws *websocket.Conn, sessionID, token string, cfg Config) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		sessionID: sessionID,
		token:     token,
		ws:        ws,
		cfg:       cfg,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan json.RawMessage),
	}
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) SessionID() string { return c.sessionID }
func (c *Conn) Token() string     { return c.token }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Run pumps the connection until the client goes away or Close is called.
// Handlers receive ctx, so callers decide whether a disconnect cancels them.
func (c *Conn) Run(ctx context.Context, handle Handler) {
	go c.writePump()
	c.readPump(ctx, handle)
}

// Emit pushes event to the client and waits for its acknowledgment.
func (c *Conn) Emit(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	id := c.nextID.Add(1)
	reply := make(chan json.RawMessage, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(Frame{Event: event, ID: id, Data: data}); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply acknowledges the client request id.
func (c *Conn) Reply(id uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ack %d: %w", id, err)
	}
	return c.write(Frame{Ack: id, Data: data})
}

// Close sends a close frame with code and reason and tears the connection down.
// Only the first call has an effect.
func (c *Conn) Close(code int, reason string) {
	c.closed.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		_ = c.ws.Close()
	})
}

func (c *Conn) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		log.Warn().
			Str("connectionId", c.id).
			Msg("connection send buffer full, closing connection")
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSlowConsumer
	}
}

func (c *Conn) resolve(id uint64, data json.RawMessage) {
	c.mu.Lock()
	reply, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		log.Debug().
			Str("connectionId", c.id).
			Uint64("ack", id).
			Msg("late or unknown acknowledgment")
		return
	}

	select {
	case reply <- data:
	default:
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connectionId", c.id).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connectionId", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, handle Handler) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().
					Err(err).
					Str("connectionId", c.id).
					Msg("unexpected websocket close")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			log.Debug().
				Err(err).
				Str("connectionId", c.id).
				Msg("malformed frame")
			continue
		}

		switch {
		case f.IsAck():
			c.resolve(f.Ack, f.Data)
		case f.Event == "":
			if f.ID != 0 {
				_ = c.Reply(f.ID, StatusReply{Status: http.StatusBadRequest})
			}
		default:
			go c.serve(ctx, handle, f)
		}
	}
}

func (c *Conn) serve(ctx context.Context, handle Handler, f Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("connectionId", c.id).
				Str("event", f.Event).
				Msg("recovered from panic in socket handler")
			if f.ID != 0 {
				_ = c.Reply(f.ID, StatusReply{Status: http.StatusInternalServerError})
			}
		}
	}()

	reply, ok := handle(ctx, c, f.Event, f.Data)
	if ok && f.ID != 0 {
		if err := c.Reply(f.ID, reply); err != nil {
			log.Debug().
				Err(err).
				Str("connectionId", c.id).
				Str("event", f.Event).
				Msg("failed to send acknowledgment")
		}
	}
}
