// Package connectivity tracks whether the remote API is reachable and notifies
// listeners when it becomes reachable again.
package connectivity

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Listener is called when the device goes from disconnected to connected
type Listener func()

// Monitor holds the cached connectivity flag. IsOnline never probes.
type Monitor struct {
	online atomic.Bool
	logger *zap.Logger

	// mu serializes transitions and guards listeners
	mu        sync.Mutex
	listeners []*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

// NewMonitor creates a monitor with the given initial state. The initial state never
// fires listeners.
func NewMonitor(initial bool, logger *zap.Logger) *Monitor {
	m := &Monitor{logger: logger}
	m.online.Store(initial)
	return m
}

// IsOnline returns the last observed state
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers a listener and returns a function that removes it
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	entry := &listenerEntry{fn: fn}

	m.mu.Lock()
	m.listeners = append(m.listeners, entry)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l == entry {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Set records a new observation. Only a disconnected to connected transition notifies
// listeners, synchronously and in registration order.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	was := m.online.Swap(connected)
	if was == connected {
		m.mu.Unlock()
		return
	}

	if !connected {
		m.mu.Unlock()
		m.logger.Warn("connectivity lost")
		return
	}

	listeners := make([]*listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity restored", zap.Int("listeners", len(listeners)))

	for _, l := range listeners {
		l.fn()
	}
}
