package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/audit"
	"github.com/gdscore/scoreboard-server/internal/auth"
	"github.com/gdscore/scoreboard-server/internal/countdown"
	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/httputil"
	"github.com/gdscore/scoreboard-server/internal/hub"
	"github.com/gdscore/scoreboard-server/internal/metrics"
	"github.com/gdscore/scoreboard-server/internal/model"
	"github.com/gdscore/scoreboard-server/internal/store"
)

const EventUpdate = "update"

type Broadcaster interface {
	Broadcast(ctx context.Context, sessionID, token, event, revision string, patch model.Patch) ([]hub.Ack, error)
}

// UpdateResult is the acknowledgment returned to the writer of an update.
type UpdateResult struct {
	Status    int       `json:"status"`
	Revision  string    `json:"rev,omitempty"`
	Responses []hub.Ack `json:"responses,omitempty"`
}

// SnapshotResult is the acknowledgment of a sync request.
type SnapshotResult struct {
	Status   int            `json:"status"`
	Snapshot model.Snapshot `json:"resp"`
}

type SyncService struct {
	store       *store.Store
	broadcaster Broadcaster
	validator   auth.Validator
}

func NewSyncService(st *store.Store, broadcaster Broadcaster, validator auth.Validator) *SyncService {
	return &SyncService{
		store:       st,
		broadcaster: broadcaster,
		validator:   validator,
	}
}

// Propose commits patch when the session is still unversioned or base matches
// its current revision. The check runs under the session lock, so of several
// proposals built on the same revision exactly one is accepted.
func (s *SyncService) Propose(sessionID, base string, patch model.Patch) (model.Session, error) {
	if patch.Mode != nil && !patch.Mode.Valid() {
		metrics.ProposalMalformed()
		return model.Session{}, apperrors.InvalidInput("mode", string(*patch.Mode))
	}
	if patch.RemainingSeconds != nil && !countdown.ValidSeconds(*patch.RemainingSeconds) {
		metrics.ProposalMalformed()
		return model.Session{}, apperrors.InvalidInput("remaining", "out of range")
	}

	committed, err := s.store.Commit(sessionID, patch, func(current model.Session) error {
		if current.Versioned() && base != current.Revision {
			return apperrors.RevisionConflict(base, current.Revision)
		}
		return nil
	})
	if err != nil {
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeRevisionConflict:
			metrics.ProposalConflict()
		case apperrors.ErrCodeUnknownSession:
			metrics.ProposalUnknown()
		}
		return model.Session{}, fmt.Errorf("propose: %w", err)
	}

	metrics.ProposalAccepted()
	log.Debug().
		Str("sessionId", sessionID).
		Str("revision", committed.Revision).
		Msg("proposal accepted")

	return committed, nil
}

// Update runs the whole write path: propose, then broadcast the accepted patch
// to every registered connection. The commit stands even when the broadcast
// stage fails, so the new revision is reported in every post-commit outcome.
func (s *SyncService) Update(ctx context.Context, sessionID, token string, req model.UpdateRequest) UpdateResult {
	committed, err := s.Propose(sessionID, req.BaseRevision, req.Patch)
	if err != nil {
		log.Debug().
			Err(err).
			Str("sessionId", sessionID).
			Msg("update rejected")
		return UpdateResult{Status: httputil.StatusFromError(err)}
	}

	acks, err := s.broadcaster.Broadcast(ctx, sessionID, token, EventUpdate, committed.Revision, req.Patch)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventBroadcastUnauthorized,
				SessionID: sessionID,
				Token:     token,
				Details:   map[string]interface{}{"revision": committed.Revision},
			})
		}
		return UpdateResult{Status: httputil.StatusFromError(err), Revision: committed.Revision}
	}

	return UpdateResult{
		Status:    http.StatusOK,
		Revision:  committed.Revision,
		Responses: acks,
	}
}

// Snapshot returns the time-reconciled view of a session. ok is false when the
// token is invalid or the session does not exist.
func (s *SyncService) Snapshot(sessionID, token string) (model.Snapshot, bool) {
	if !s.validator.Validate(token) {
		return model.Snapshot{}, false
	}

	sess, found := s.store.Get(sessionID)
	if !found {
		return model.Snapshot{}, false
	}

	return countdown.Snapshot(sess, s.store.Clock().Now()), true
}
