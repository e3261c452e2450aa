package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdscore/scoreboard-server/internal/auth"
	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/httputil"
	"github.com/gdscore/scoreboard-server/internal/hub"
	"github.com/gdscore/scoreboard-server/internal/model"
	"github.com/gdscore/scoreboard-server/internal/power"
	"github.com/gdscore/scoreboard-server/internal/ratelimit"
	"github.com/gdscore/scoreboard-server/internal/service"
	"github.com/gdscore/scoreboard-server/internal/socket"
	"github.com/gdscore/scoreboard-server/internal/store"
)

const (
	testSecret  = "test-secret"
	waitTimeout = 2 * time.Second
)

type testEnv struct {
	server   *httptest.Server
	store    *store.Store
	registry *hub.Registry
	sockets  *SocketHandler
}

type envOptions struct {
	messageLimit int
	commands     power.MapSource
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	validator := auth.NewSharedSecret(testSecret, "")
	st := store.New(store.WithDefaults(model.SessionDefaults{HomeTeamName: "Home", AwayTeamName: "Away"}))
	registry := hub.NewRegistry(validator, st, hub.WithAckTimeout(time.Second))
	if opts.commands == nil {
		opts.commands = power.MapSource{}
	}

	sockets := NewSocketHandler(SocketHandlerParams{
		Upgrader:     socket.NewUpgrader([]string{"*"}),
		SocketConfig: socket.DefaultConfig(),
		Registry:     registry,
		SyncService:  service.NewSyncService(st, registry, validator),
		PowerService: service.NewPowerService(st, power.NewDispatcher(opts.commands), validator),
		Limiter:      ratelimit.NewMemory(nil),
		MessageLimit: opts.messageLimit,
	})

	r := chi.NewRouter()
	r.Get("/health", Health)
	r.Mount("/debug", NewDebugHandler(registry).Routes())
	r.Get("/socket", sockets.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		sockets.CloseAll()
		srv.Close()
	})

	return &testEnv{server: srv, store: st, registry: registry, sockets: sockets}
}

func (e *testEnv) socketCount(t *testing.T, sessionID string) int {
	t.Helper()
	resp, err := http.Get(e.server.URL + "/debug/sockets/" + sessionID)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Sockets int `json:"sockets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Sockets
}

type testClient struct {
	t       *testing.T
	ws      *websocket.Conn
	nextID  atomic.Uint64
	writeMu sync.Mutex
	acks    chan socket.Frame
	pushes  chan socket.Frame
	closed  chan error
}

func (e *testEnv) dial(t *testing.T, sessionID, token string) *testClient {
	t.Helper()
	url := fmt.Sprintf("ws%s/socket?uuid=%s&token=%s", strings.TrimPrefix(e.server.URL, "http"), sessionID, token)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	c := &testClient{
		t:      t,
		ws:     ws,
		acks:   make(chan socket.Frame, 16),
		pushes: make(chan socket.Frame, 16),
		closed: make(chan error, 1),
	}
	t.Cleanup(func() { ws.Close() })
	go c.readLoop()
	return c
}

func (c *testClient) readLoop() {
	for {
		var f socket.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.closed <- err
			return
		}
		if f.IsAck() {
			c.acks <- f
			continue
		}
		c.pushes <- f
		if f.ID != 0 {
			c.write(socket.Frame{Ack: f.ID, Data: json.RawMessage(`{"received":true}`)})
		}
	}
}

func (c *testClient) write(f socket.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteJSON(f)
}

func (c *testClient) emit(event string, payload any) uint64 {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	id := c.nextID.Add(1)
	c.write(socket.Frame{Event: event, ID: id, Data: data})
	return id
}

// request sends event and decodes its acknowledgment into out.
func (c *testClient) request(event string, payload any, out any) {
	c.t.Helper()
	id := c.emit(event, payload)

	select {
	case f := <-c.acks:
		require.Equal(c.t, id, f.Ack)
		require.NoError(c.t, json.Unmarshal(f.Data, out))
	case <-time.After(waitTimeout):
		c.t.Fatalf("no acknowledgment for %s", event)
	}
}

func (c *testClient) expectNoAck(wait time.Duration) {
	c.t.Helper()
	select {
	case f := <-c.acks:
		c.t.Fatalf("unexpected acknowledgment %d: %s", f.Ack, f.Data)
	case <-time.After(wait):
	}
}

func (c *testClient) expectPush() model.UpdateEvent {
	c.t.Helper()
	select {
	case f := <-c.pushes:
		require.Equal(c.t, service.EventUpdate, f.Event)
		var ev model.UpdateEvent
		require.NoError(c.t, json.Unmarshal(f.Data, &ev))
		return ev
	case <-time.After(waitTimeout):
		c.t.Fatal("no update pushed")
		return model.UpdateEvent{}
	}
}

func (c *testClient) expectNoPush(wait time.Duration) {
	c.t.Helper()
	select {
	case f := <-c.pushes:
		c.t.Fatalf("unexpected push %s", f.Data)
	case <-time.After(wait):
	}
}

type updateAck struct {
	Status    int       `json:"status"`
	Rev       string    `json:"rev"`
	Responses []hub.Ack `json:"responses"`
}

type syncAck struct {
	Status int            `json:"status"`
	Resp   model.Snapshot `json:"resp"`
}

type statusAck struct {
	Status int `json:"status"`
}

func TestThreeClientScenario(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	a := env.dial(t, "court-1", testSecret)
	b := env.dial(t, "court-1", testSecret)
	c := env.dial(t, "court-1", testSecret)

	require.Eventually(t, func() bool { return env.socketCount(t, "court-1") == 3 }, waitTimeout, 10*time.Millisecond)

	// A writes on the unversioned session.
	var first updateAck
	a.request("update", map[string]any{"home": 1}, &first)
	assert.Equal(t, http.StatusOK, first.Status)
	assert.NotEmpty(t, first.Rev)
	require.Len(t, first.Responses, 3)
	for _, ack := range first.Responses {
		assert.True(t, ack.OK)
		assert.JSONEq(t, `{"received":true}`, string(ack.Response))
	}

	// Everyone, the writer included, sees the same update.
	for _, client := range []*testClient{a, b, c} {
		ev := client.expectPush()
		assert.Equal(t, first.Rev, ev.Revision)
		require.NotNil(t, ev.HomeScore)
		assert.Equal(t, 1, *ev.HomeScore)
		assert.NotZero(t, ev.Timestamp)
	}

	// B writes without the new base and loses.
	var conflict updateAck
	b.request("update", map[string]any{"away": 5}, &conflict)
	assert.Equal(t, http.StatusConflict, conflict.Status)
	a.expectNoPush(100 * time.Millisecond)

	// B resynchronizes and retries on the current revision.
	var snap syncAck
	b.request("sync", struct{}{}, &snap)
	assert.Equal(t, http.StatusOK, snap.Status)
	assert.Equal(t, first.Rev, snap.Resp.Revision)
	assert.Equal(t, 1, snap.Resp.HomeScore)
	assert.Equal(t, 0, snap.Resp.AwayScore)
	assert.Equal(t, "Home", snap.Resp.HomeTeamName)

	var second updateAck
	b.request("update", map[string]any{"rev": snap.Resp.Revision, "away": 5}, &second)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.NotEqual(t, first.Rev, second.Rev)
	for _, client := range []*testClient{a, b, c} {
		assert.Equal(t, second.Rev, client.expectPush().Revision)
	}

	// C leaves; it disappears from the count and from later broadcasts.
	require.NoError(t, c.ws.Close())
	require.Eventually(t, func() bool { return env.socketCount(t, "court-1") == 2 }, waitTimeout, 10*time.Millisecond)

	var third updateAck
	a.request("update", map[string]any{"rev": second.Rev, "period": "2"}, &third)
	assert.Equal(t, http.StatusOK, third.Status)
	assert.Len(t, third.Responses, 2)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ghost := env.dial(t, "ghost", "")

	var upd updateAck
	ghost.request("update", map[string]any{"home": 1}, &upd)
	assert.Equal(t, http.StatusForbidden, upd.Status)

	ghost.emit("sync", struct{}{})
	ghost.expectNoAck(150 * time.Millisecond)

	var pw statusAck
	ghost.request("power", map[string]any{"mode": "score"}, &pw)
	assert.Equal(t, http.StatusUnauthorized, pw.Status)

	_, exists := env.store.Get("ghost")
	assert.False(t, exists)
}

func TestTokenlessConnection(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.dial(t, "court-1", testSecret)
	require.Eventually(t, func() bool { return env.socketCount(t, "court-1") == 1 }, waitTimeout, 10*time.Millisecond)

	anon := env.dial(t, "court-1", "")

	var upd updateAck
	anon.request("update", map[string]any{"home": 7}, &upd)
	assert.Equal(t, http.StatusUnauthorized, upd.Status)
	assert.NotEmpty(t, upd.Rev, "commit happened before the broadcast stage")

	sess, _ := env.store.Get("court-1")
	assert.Equal(t, 7, sess.HomeScore)
	owner.expectNoPush(100 * time.Millisecond)

	anon.emit("sync", struct{}{})
	anon.expectNoAck(150 * time.Millisecond)
	assert.Equal(t, 1, env.socketCount(t, "court-1"))
}

func TestInvalidTokenIsDisconnected(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	intruder := env.dial(t, "court-1", "wrong")

	select {
	case err := <-intruder.closed:
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	case <-time.After(waitTimeout):
		t.Fatal("connection with invalid token stayed open")
	}

	assert.Equal(t, 0, env.socketCount(t, "court-1"))
	_, exists := env.store.Get("court-1")
	assert.False(t, exists)
}

func TestPowerEvent(t *testing.T) {
	var calls atomic.Int32
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(webhook.Close)

	env := newTestEnv(t, envOptions{commands: power.MapSource{
		"POWER_ON_URL_court_1": fmt.Sprintf(`{"url":%q}`, webhook.URL),
	}})
	client := env.dial(t, "court-1", testSecret)

	t.Run("configured action succeeds", func(t *testing.T) {
		var ack statusAck
		client.request("power", map[string]any{"mode": "score"}, &ack)
		assert.Equal(t, http.StatusOK, ack.Status)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unconfigured action is not found", func(t *testing.T) {
		var ack statusAck
		client.request("power", map[string]any{"mode": "signage"}, &ack)
		assert.Equal(t, http.StatusNotFound, ack.Status)
	})

	t.Run("legacy flags", func(t *testing.T) {
		var ack statusAck
		client.request("power", map[string]any{"turnOn": true, "turnOff": true}, &ack)
		assert.Equal(t, http.StatusOK, ack.Status)
	})

	t.Run("power leaves mode alone", func(t *testing.T) {
		sess, _ := env.store.Get("court-1")
		assert.Equal(t, model.ModeOff, sess.Mode)
		assert.False(t, sess.Versioned())
	})
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	client := env.dial(t, "court-1", testSecret)

	t.Run("unknown event", func(t *testing.T) {
		var ack statusAck
		client.request("explode", struct{}{}, &ack)
		assert.Equal(t, http.StatusBadRequest, ack.Status)
	})

	t.Run("update with wrong types", func(t *testing.T) {
		var ack statusAck
		client.request("update", map[string]any{"home": "three"}, &ack)
		assert.Equal(t, http.StatusBadRequest, ack.Status)
	})

	t.Run("update with invalid mode", func(t *testing.T) {
		var ack statusAck
		client.request("update", map[string]any{"mode": "disco"}, &ack)
		assert.Equal(t, http.StatusBadRequest, ack.Status)
	})

	t.Run("ping is never acknowledged", func(t *testing.T) {
		client.emit("ping", struct{}{})
		client.expectNoAck(100 * time.Millisecond)
	})
}

func TestMessageRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{messageLimit: 2})
	client := env.dial(t, "court-1", testSecret)

	for i := 0; i < 2; i++ {
		var ack syncAck
		client.request("sync", struct{}{}, &ack)
		assert.Equal(t, http.StatusOK, ack.Status)
	}

	var limited statusAck
	client.request("sync", struct{}{}, &limited)
	assert.Equal(t, http.StatusTooManyRequests, limited.Status)
}

func TestSocketRejectsInvalidSessionID(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name  string
		query string
		code  apperrors.ErrorCode
	}{
		{"missing", "uuid=&token=" + testSecret, apperrors.ErrCodeMissingRequired},
		{"contains space", "uuid=court%201&token=" + testSecret, apperrors.ErrCodeInvalidInput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + "/socket?" + tc.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body httputil.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestCloseAll(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	client := env.dial(t, "court-1", testSecret)
	require.Eventually(t, func() bool { return env.socketCount(t, "court-1") == 1 }, waitTimeout, 10*time.Millisecond)

	env.sockets.CloseAll()

	select {
	case err := <-client.closed:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	case <-time.After(waitTimeout):
		t.Fatal("client not disconnected")
	}
	require.Eventually(t, func() bool { return env.registry.Total() == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
