package service

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/audit"
	"github.com/gdscore/scoreboard-server/internal/auth"
	"github.com/gdscore/scoreboard-server/internal/model"
	"github.com/gdscore/scoreboard-server/internal/store"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, actions []model.PowerAction) int
}

type PowerService struct {
	store      *store.Store
	dispatcher Dispatcher
	validator  auth.Validator
}

func NewPowerService(st *store.Store, dispatcher Dispatcher, validator auth.Validator) *PowerService {
	return &PowerService{
		store:      st,
		dispatcher: dispatcher,
		validator:  validator,
	}
}

// Power triggers the webhooks matching req and returns the aggregated status.
// Session state is never modified here.
func (s *PowerService) Power(ctx context.Context, sessionID, token string, req model.PowerRequest) int {
	if !s.validator.Validate(token) {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventPowerUnauthorized,
			SessionID: sessionID,
			Token:     token,
		})
		return http.StatusUnauthorized
	}

	if _, ok := s.store.Get(sessionID); !ok {
		return http.StatusForbidden
	}

	actions := req.Actions()
	status := s.dispatcher.Dispatch(ctx, sessionID, actions)

	log.Info().
		Str("sessionId", sessionID).
		Int("actions", len(actions)).
		Int("status", status).
		Msg("power request handled")

	return status
}
