package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gdscore/scoreboard-server/internal/auth"
	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/metrics"
	"github.com/gdscore/scoreboard-server/internal/model"
)

const DefaultAckTimeout = 5 * time.Second

// Conn is a live client connection able to deliver an event and wait for the
// client's acknowledgment.
type Conn interface {
	ID() string
	Emit(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// SessionCreator materializes a session on first successful registration.
type SessionCreator interface {
	Create(id string) bool
}

// Ack is the outcome of delivering one broadcast to one recipient.
type Ack struct {
	ConnectionID string          `json:"connectionId"`
	OK           bool            `json:"ok"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Registry tracks which connections listen to which session and fans updates
// out to them.
type Registry struct {
	validator  auth.Validator
	creator    SessionCreator
	clock      clockwork.Clock
	ackTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]map[string]Conn     // sessionID -> connectionID -> conn
	byConn   map[string]map[string]struct{} // connectionID -> sessionIDs
}

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func WithAckTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ackTimeout = d
		}
	}
}

func NewRegistry(validator auth.Validator, creator SessionCreator, opts ...Option) *Registry {
	r := &Registry{
		validator:  validator,
		creator:    creator,
		clock:      clockwork.NewRealClock(),
		ackTimeout: DefaultAckTimeout,
		sessions:   make(map[string]map[string]Conn),
		byConn:     make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn to the fan-out set of sessionID when token is valid and
// makes sure the session exists. It reports whether the connection was added.
func (r *Registry) Register(sessionID string, conn Conn, token string) bool {
	if !r.validator.Validate(token) {
		metrics.ReportRegistration(false)
		log.Warn().
			Str("sessionId", sessionID).
			Str("connectionId", conn.ID()).
			Msg("registration rejected")
		return false
	}

	r.mu.Lock()
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]Conn)
	}
	r.sessions[sessionID][conn.ID()] = conn
	if r.byConn[conn.ID()] == nil {
		r.byConn[conn.ID()] = make(map[string]struct{})
	}
	r.byConn[conn.ID()][sessionID] = struct{}{}
	count := len(r.sessions[sessionID])
	total := r.totalLocked()
	r.mu.Unlock()

	r.creator.Create(sessionID)

	metrics.ReportRegistration(true)
	metrics.SetConnections(total)

	log.Info().
		Str("sessionId", sessionID).
		Str("connectionId", conn.ID()).
		Int("connectionCount", count).
		Msg("connection registered")

	return true
}

// Unregister removes conn from every fan-out set. Calling it more than once is
// harmless.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionIDs, ok := r.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(r.byConn, conn.ID())

	for sessionID := range sessionIDs {
		conns := r.sessions[sessionID]
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.sessions, sessionID)
		}

		log.Info().
			Str("sessionId", sessionID).
			Str("connectionId", conn.ID()).
			Int("connectionCount", len(conns)).
			Msg("connection unregistered")
	}

	metrics.SetConnections(r.totalLocked())
}

// Broadcast emits {ts, rev, ...patch} to every connection registered for
// sessionID, the originator included, and waits for each acknowledgment up to
// the configured timeout. Acks are returned ordered by connection ID.
func (r *Registry) Broadcast(ctx context.Context, sessionID, token, event, revision string, patch model.Patch) ([]Ack, error) {
	if !r.validator.Validate(token) {
		return nil, apperrors.Unauthorized("Invalid token")
	}

	recipients := r.recipients(sessionID)
	if len(recipients) == 0 {
		return nil, apperrors.NoSubscribers(sessionID)
	}

	payload := model.UpdateEvent{
		Timestamp: r.clock.Now().UnixMilli(),
		Revision:  revision,
		Patch:     patch,
	}

	start := r.clock.Now()
	acks := make([]Ack, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range recipients {
		i, conn := i, conn
		g.Go(func() error {
			acks[i] = r.deliver(gctx, conn, event, payload)
			return nil
		})
	}
	_ = g.Wait()

	metrics.ReportBroadcastLatency(r.clock.Since(start))

	log.Debug().
		Str("sessionId", sessionID).
		Str("revision", revision).
		Int("recipients", len(recipients)).
		Msg("broadcast delivered")

	return acks, nil
}

func (r *Registry) deliver(ctx context.Context, conn Conn, event string, payload any) Ack {
	ctx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()

	ack := Ack{ConnectionID: conn.ID()}
	resp, err := conn.Emit(ctx, event, payload)
	if err != nil {
		ack.Error = err.Error()
		metrics.ReportAck(false)
		log.Debug().
			Err(err).
			Str("connectionId", conn.ID()).
			Msg("broadcast not acknowledged")
		return ack
	}

	ack.OK = true
	ack.Response = resp
	metrics.ReportAck(true)
	return ack
}

// recipients snapshots the fan-out set so emitting never happens under the lock.
func (r *Registry) recipients(sessionID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.sessions[sessionID]))
	for _, conn := range r.sessions[sessionID] {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ID() < conns[j].ID()
	})
	return conns
}

func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalLocked()
}

func (r *Registry) totalLocked() int {
	return len(r.byConn)
}
