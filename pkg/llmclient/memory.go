package llmclient

import (
	"sync"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

// maxTurns bounds how many prior turns are retained per memory key. Fixed
// rather than token-budgeted: a 10-turn window keeps the system simple and is
// generous enough for the short, single-topic conversations this pipeline
// drives.
const maxTurns = 10

// memory is a process-lifetime, per-key bounded window of conversation
// turns. Safe for concurrent use.
type memory struct {
	mu      sync.Mutex
	windows map[string][]types.Message
}

func newMemory() *memory {
	return &memory{windows: make(map[string][]types.Message)}
}

// append adds a user/assistant turn pair to key's window, evicting the
// oldest messages if the window would exceed maxTurns turns (maxTurns*2
// messages).
func (m *memory) append(key string, user, assistant types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.windows[key], user, assistant)
	if over := len(w) - maxTurns*2; over > 0 {
		w = w[over:]
	}
	m.windows[key] = w
}

// history returns a copy of key's current window.
func (m *memory) history(key string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windows[key]
	out := make([]types.Message, len(w))
	copy(out, w)
	return out
}
