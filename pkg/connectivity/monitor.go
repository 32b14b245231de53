package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TransitionFunc is notified after every observed state change.
type TransitionFunc func(prev, next State)

type pendingWait struct {
	deadline time.Time
	result   chan bool
}

// Monitor publishes the datastore connection state. It never initiates a
// transition itself; the driver reports every change through Observe.
// Thread-safe: all access goes through the mutex.
type Monitor struct {
	mu        sync.Mutex
	state     State
	waiters   map[uint64]*pendingWait
	nextWait  uint64
	listeners []TransitionFunc

	logger *slog.Logger
}

func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		state:   Disconnected,
		waiters: make(map[uint64]*pendingWait),
		logger:  logger.With(slog.String("component", "connectivity_monitor")),
	}
}

// Current returns the last state reported by the driver.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTransition registers fn to be called (in its own goroutine) after each change.
func (m *Monitor) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Observe records a state reported by the driver. Any state is accepted at any
// time since the driver owns the authoritative transitions.
func (m *Monitor) Observe(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	if next == Connected {
		for id, w := range m.waiters {
			w.result <- true
			delete(m.waiters, id)
		}
	}
	listeners := make([]TransitionFunc, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if prev.next() != next {
		m.logger.Warn("Out of order connectivity transition", slog.String("from", prev.String()), slog.String("to", next.String()))
	} else {
		m.logger.Info("Connectivity state changed", slog.String("from", prev.String()), slog.String("to", next.String()))
	}
	for _, fn := range listeners {
		go fn(prev, next)
	}
}

// WaitUntilConnected suspends the caller until the state becomes Connected or
// timeout elapses. A false result is not an error: callers proceed degraded.
func (m *Monitor) WaitUntilConnected(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return true
	}
	if timeout <= 0 {
		m.mu.Unlock()
		return false
	}
	id := m.nextWait
	m.nextWait++
	w := &pendingWait{
		deadline: time.Now().Add(timeout),
		// buffered so Observe never blocks on a waiter that already gave up
		result: make(chan bool, 1),
	}
	m.waiters[id] = w
	m.mu.Unlock()

	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	select {
	case ok := <-w.result:
		return ok
	case <-timer.C:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.waiters[id]; still {
		delete(m.waiters, id)
		return false
	}
	// resolved between the timer firing and taking the lock
	return <-w.result
}

// PendingWaiters reports how many callers are blocked in WaitUntilConnected.
func (m *Monitor) PendingWaiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
