package power

import (
	"fmt"
	"os"
	"strings"

	"github.com/gdscore/scoreboard-server/internal/model"
)

// CommandSource resolves the raw webhook descriptor configured for one action
// of one session.
type CommandSource interface {
	Lookup(sessionID string, action model.PowerAction) (string, bool)
}

// EnvSource reads descriptors from environment variables named
// <ACTION>_URL_<session id>, with dashes in the id replaced by underscores.
// Variables are read on every call so they can change without a restart.
type EnvSource struct{}

func (EnvSource) Lookup(sessionID string, action model.PowerAction) (string, bool) {
	return os.LookupEnv(EnvKey(sessionID, action))
}

func EnvKey(sessionID string, action model.PowerAction) string {
	return fmt.Sprintf("%s_URL_%s", action, strings.ReplaceAll(sessionID, "-", "_"))
}

// MapSource serves descriptors from memory, keyed like EnvSource.
type MapSource map[string]string

func (m MapSource) Lookup(sessionID string, action model.PowerAction) (string, bool) {
	raw, ok := m[EnvKey(sessionID, action)]
	return raw, ok
}
