package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/model"
)

// Precondition is evaluated against the current record while the session is
// locked. A non-nil error aborts the commit and is returned unchanged.
type Precondition func(current model.Session) error

type entry struct {
	mu      sync.Mutex
	session model.Session
}

// Store owns every session record. Each session has its own lock, so commits
// to different sessions never contend.
type Store struct {
	clock       clockwork.Clock
	defaults    model.SessionDefaults
	newRevision func() string

	mu       sync.RWMutex
	sessions map[string]*entry
}

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func WithDefaults(defaults model.SessionDefaults) Option {
	return func(s *Store) {
		s.defaults = defaults
	}
}

func WithRevisionFunc(fn func() string) Option {
	return func(s *Store) {
		s.newRevision = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:       clockwork.NewRealClock(),
		newRevision: uuid.NewString,
		sessions:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Get returns a copy of the session record.
func (s *Store) Get(id string) (model.Session, bool) {
	e := s.lookup(id)
	if e == nil {
		return model.Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.session), true
}

// Create adds an unversioned session with default values. It reports whether a
// new record was created; existing sessions are left untouched.
func (s *Store) Create(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return false
	}

	s.sessions[id] = &entry{
		session: model.Session{
			ID:           id,
			HomeTeamName: s.defaults.HomeTeamName,
			AwayTeamName: s.defaults.AwayTeamName,
			Period:       s.defaults.Period,
			Mode:         model.ModeOff,
		},
	}

	log.Info().Str("sessionId", id).Msg("session created")
	return true
}

// Commit merges patch into the session and assigns a fresh revision. pre, when
// non-nil, runs under the session lock before anything is written.
func (s *Store) Commit(id string, patch model.Patch, pre Precondition) (model.Session, error) {
	e := s.lookup(id)
	if e == nil {
		return model.Session{}, apperrors.UnknownSession(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if pre != nil {
		if err := pre(clone(e.session)); err != nil {
			return model.Session{}, err
		}
	}

	next := apply(e.session, patch, s.clock.Now())
	next.Revision = s.newRevision()
	e.session = next

	return clone(next), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func clone(sess model.Session) model.Session {
	out := sess
	if sess.ClockEnd != nil {
		end := *sess.ClockEnd
		out.ClockEnd = &end
	}
	if sess.RemainingSeconds != nil {
		remaining := *sess.RemainingSeconds
		out.RemainingSeconds = &remaining
	}
	return out
}
