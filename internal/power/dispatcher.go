package power

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/metrics"
	"github.com/gdscore/scoreboard-server/internal/model"
)

const (
	DefaultTimeout = 10 * time.Second
	maxLoggedBody  = 512
)

// Dispatcher runs the power/mode webhooks of a session and folds their outcome
// into one status. It never touches session state.
type Dispatcher struct {
	source CommandSource
	client *retryablehttp.Client
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(p *Dispatcher) {
		if d > 0 {
			p.client.HTTPClient.Timeout = d
		}
	}
}

// WithRetryMax sets how many times a failed call is retried. Zero means a
// single attempt.
func WithRetryMax(n int) Option {
	return func(p *Dispatcher) {
		p.client.RetryMax = n
	}
}

func NewDispatcher(source CommandSource, opts ...Option) *Dispatcher {
	client := &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: DefaultTimeout},
		RetryMax:     0,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		Backoff:      retryablehttp.LinearJitterBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Logger:       zerologAdapter{},
	}
	d := &Dispatcher{source: source, client: client}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch invokes every action concurrently. No actions yields 404, any
// success yields 200, otherwise the status of the first action is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, actions []model.PowerAction) int {
	if len(actions) == 0 {
		return http.StatusNotFound
	}

	statuses := make([]int, len(actions))
	var g errgroup.Group
	for i, action := range actions {
		i, action := i, action
		g.Go(func() error {
			statuses[i] = d.invoke(ctx, sessionID, action)
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range statuses {
		if status == http.StatusOK {
			return http.StatusOK
		}
	}
	return statuses[0]
}

func (d *Dispatcher) invoke(ctx context.Context, sessionID string, action model.PowerAction) int {
	status := statusOf(d.call(ctx, sessionID, action))
	metrics.ReportPowerRequest(status)
	return status
}

// statusOf folds a call outcome into the status reported to clients. Only a
// missing command is distinguished from failure.
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case apperrors.HasCode(err, apperrors.ErrCodeNotConfigured):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (d *Dispatcher) call(ctx context.Context, sessionID string, action model.PowerAction) error {
	logger := log.With().
		Str("sessionId", sessionID).
		Str("action", string(action)).
		Logger()

	raw, ok := d.source.Lookup(sessionID, action)
	if !ok || raw == "" {
		logger.Debug().Msg("no power command configured")
		return apperrors.NotConfigured(EnvKey(sessionID, action))
	}

	cmd, err := ParseCommand(raw)
	if err != nil {
		logger.Error().Err(err).Msg("invalid power command")
		return apperrors.InvalidInput("power command", err.Error())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, cmd.method(), cmd.URL, cmd.body())
	if err != nil {
		logger.Error().Err(err).Str("url", cmd.URL).Msg("failed to build power request")
		return apperrors.InvalidInput("power command", err.Error())
	}
	req.Header = cmd.header()

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		logger.Error().
			Err(err).
			Str("url", cmd.URL).
			Dur("elapsed", elapsed).
			Msg("power request error")
		return apperrors.External("power webhook", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error().
			Str("url", cmd.URL).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("power request failed")
		return apperrors.External("power webhook", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	logger.Info().
		Str("url", cmd.URL).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Str("response", string(body)).
		Msg("power request successful")

	return nil
}

// zerologAdapter satisfies retryablehttp.LeveledLogger.
type zerologAdapter struct{}

func (zerologAdapter) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Debug(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}
