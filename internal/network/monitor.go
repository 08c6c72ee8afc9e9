// Package network tracks connectivity for components that must not call remote
// services while offline.
package network

import (
	"sync"

	"github.com/tphakala/spotit-go/internal/logger"
)

// Monitor holds the current online flag and notifies listeners on changes
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[uint64]func(online bool)
	nextID    uint64
}

// NewMonitor creates a monitor with the given initial state
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:    online,
		listeners: make(map[uint64]func(bool)),
	}
}

// Online returns the current state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and reports whether it changed. Listeners run on the
// caller's goroutine after the state is updated.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	GetLogger().Info("connectivity changed", logger.Bool("online", online))
	for _, fn := range listeners {
		fn(online)
	}
	return true
}

// OnChange registers fn for state changes. The returned func removes it.
func (m *Monitor) OnChange(fn func(online bool)) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}
