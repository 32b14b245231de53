package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const reconnectKey = "reconnect"

// Connector performs one connection attempt. Implementations report state
// changes to the Monitor themselves.
type Connector interface {
	Connect(ctx context.Context) error
}

// Supervisor drives the datastore from Disconnected back to Connected.
// Overlapping callers share one in-flight attempt.
type Supervisor struct {
	monitor   *Monitor
	connector Connector
	timeout   time.Duration
	group     singleflight.Group
	attempts  atomic.Int64

	logger *slog.Logger
}

func NewSupervisor(logger *slog.Logger, monitor *Monitor, connector Connector, timeout time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Supervisor{
		monitor:   monitor,
		connector: connector,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "reconnect_supervisor")),
	}
}

// Reconnect returns true once the datastore is Connected. It makes at most one
// bounded attempt per call; deciding to try again is left to the caller.
func (s *Supervisor) Reconnect(ctx context.Context) bool {
	if s.monitor.Current() == Connected {
		return true
	}

	ch := s.group.DoChan(reconnectKey, func() (any, error) {
		if s.monitor.Current() == Connected {
			return true, nil
		}
		n := s.attempts.Add(1)
		// detached from any single caller so one cancellation does not fail the others
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		s.logger.Info("Attempting datastore reconnection", slog.Int64("attempt", n), slog.Duration("timeout", s.timeout))
		if err := s.connector.Connect(attemptCtx); err != nil {
			s.logger.Warn("Datastore reconnection failed", slog.Int64("attempt", n), slog.Any("error", err))
			return false, nil
		}
		return s.monitor.Current() == Connected, nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// Attempts returns how many underlying connection attempts have been started.
func (s *Supervisor) Attempts() int64 {
	return s.attempts.Load()
}
