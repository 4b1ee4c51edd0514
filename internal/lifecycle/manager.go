package lifecycle

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager closes the long-lived resources the paywall app owns (replay
// store, RPC client, archival loop) in reverse registration order, so
// consumers shut down before the stores they read from.
type Manager struct {
	mu        sync.Mutex
	resources []resource
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates an empty resource manager.
func NewManager() *Manager {
	return &Manager{
		resources: make([]resource, 0),
	}
}

// Register adds a named resource to close on shutdown.
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc registers a cleanup function that has no Closer of its own,
// like stopping the archival ticker.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every registered resource, last registered first. A failing
// Close is logged and does not stop the remaining cleanups; the first error
// is returned.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			log.Error().
				Err(err).
				Str("resource", res.name).
				Msg("lifecycle.close_resource_failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// closerFunc adapts a function to the io.Closer interface.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
