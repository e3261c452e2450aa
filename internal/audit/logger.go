package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/util"
)

type EventType string

const (
	EventRegisterFailure       EventType = "register_failure"
	EventBroadcastUnauthorized EventType = "broadcast_unauthorized"
	EventPowerUnauthorized     EventType = "power_unauthorized"
	EventRateLimitExceed       EventType = "rate_limit_exceeded"
)

type Event struct {
	Type         EventType
	SessionID    string
	ConnectionID string
	Token        string
	IP           string
	UserAgent    string
	Details      map[string]interface{}
}

// Log writes a security audit record. Tokens are never logged verbatim, only
// their fingerprint.
func Log(ctx context.Context, event Event) {
	logger := loggerFrom(ctx).With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.ConnectionID != "" {
		logger = logger.With().Str("connection_id", event.ConnectionID).Logger()
	}
	if fp := util.TokenFingerprint(event.Token); fp != "" {
		logger = logger.With().Str("token_fp", fp).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Warn()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

// loggerFrom prefers the request-scoped logger and falls back to the global one
// when ctx carries none.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
