package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"github.com/gdscore/scoreboard-server/internal/util"
)

// maxRejected bounds the set of remembered bad tokens.
const maxRejected = 128

// Validator decides whether a bearer token grants access to the deployment.
type Validator interface {
	Validate(token string) bool
}

// SharedSecret checks tokens against the single deployment-wide secret. When a
// bcrypt hash is configured it wins over the plaintext secret, and each
// distinct token is run through bcrypt at most once.
type SharedSecret struct {
	secret  string
	hash    string
	compare func(token, hash string) bool

	mu       sync.Mutex
	verified *[sha256.Size]byte
	rejected map[[sha256.Size]byte]struct{}
}

func NewSharedSecret(secret, hash string) *SharedSecret {
	return &SharedSecret{
		secret:   secret,
		hash:     hash,
		compare:  util.CheckPasswordHash,
		rejected: make(map[[sha256.Size]byte]struct{}),
	}
}

func (s *SharedSecret) Validate(token string) bool {
	if token == "" {
		return false
	}
	if s.hash != "" {
		return s.validateHash(token)
	}
	if s.secret == "" {
		return false
	}
	return util.ConstantTimeEqual(token, s.secret)
}

func (s *SharedSecret) validateHash(token string) bool {
	digest := sha256.Sum256([]byte(token))

	s.mu.Lock()
	if s.verified != nil && subtle.ConstantTimeCompare(s.verified[:], digest[:]) == 1 {
		s.mu.Unlock()
		return true
	}
	if _, ok := s.rejected[digest]; ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	ok := s.compare(token, s.hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.verified = &digest
	} else if len(s.rejected) < maxRejected {
		s.rejected[digest] = struct{}{}
	}
	return ok
}
