package degraded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
)

// ErrNoFallback is returned by a fallback that has nothing to serve, such as a
// cache miss. The dispatcher turns it into a denied result.
var ErrNoFallback = errors.New("no fallback value available")

type Outcome string

const (
	Executed Outcome = "executed"
	FellBack Outcome = "fellBack"
	Denied   Outcome = "denied"
)

// Result lets callers tell a persisted value from a fallback one.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Warning string
}

// StateReader is the part of the connectivity monitor the dispatcher needs.
type StateReader interface {
	Current() connectivity.State
}

// Dispatcher decides per call whether to hit the datastore, serve a fallback
// or refuse. It never waits for reconnection.
type Dispatcher struct {
	state   StateReader
	policy  Policy
	recover func(ctx context.Context)

	recovering atomic.Bool
	logger     *slog.Logger
}

// NewDispatcher builds a dispatcher. recover, if non-nil, is run in the
// background when the datastore looks unhealthy; at most one run is outstanding.
func NewDispatcher(logger *slog.Logger, state StateReader, policy Policy, recover func(ctx context.Context)) *Dispatcher {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Dispatcher{
		state:   state,
		policy:  policy,
		recover: recover,
		logger:  logger.With(slog.String("component", "degraded_dispatcher")),
	}
}

func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Execute runs live when the datastore is Connected, otherwise applies the
// kind's fallback policy. Connectivity errors from live are absorbed into a
// fellBack or denied result; every other error is returned unchanged.
func Execute[T any](ctx context.Context, d *Dispatcher, kind Kind, live, fallback func(context.Context) (T, error)) (Result[T], error) {
	policy := d.policy.For(kind)

	if d.state.Current() == connectivity.Connected {
		value, err := live(ctx)
		if err == nil {
			return Result[T]{Outcome: Executed, Value: value}, nil
		}
		if !datastore.IsConnectivity(err) {
			return Result[T]{}, err
		}
		d.logger.Warn("Live operation hit a connectivity error", slog.String("kind", string(kind)), slog.Any("error", err))
		res, err := runFallback(ctx, d, kind, policy, fallback, fmt.Sprintf("datastore error during %s: %v", kind, err))
		d.kick(ctx)
		return res, err
	}

	// kicked after the fallback so recovery sees anything the fallback queued
	res, err := runFallback(ctx, d, kind, policy, fallback, fmt.Sprintf("datastore %s", d.state.Current()))
	d.kick(ctx)
	return res, err
}

func runFallback[T any](ctx context.Context, d *Dispatcher, kind Kind, policy Fallback, fallback func(context.Context) (T, error), reason string) (Result[T], error) {
	if policy == Deny || fallback == nil {
		d.logger.Info("Operation denied in degraded mode", slog.String("kind", string(kind)), slog.String("reason", reason))
		return Result[T]{Outcome: Denied, Warning: reason}, nil
	}
	value, err := fallback(ctx)
	if errors.Is(err, ErrNoFallback) {
		return Result[T]{Outcome: Denied, Warning: reason + "; " + err.Error()}, nil
	}
	if err != nil {
		return Result[T]{}, err
	}
	d.logger.Debug("Served fallback", slog.String("kind", string(kind)), slog.String("policy", string(policy)))
	return Result[T]{Outcome: FellBack, Value: value, Warning: reason}, nil
}

func (d *Dispatcher) kick(ctx context.Context) {
	if d.recover == nil || !d.recovering.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer d.recovering.Store(false)
		d.recover(context.WithoutCancel(ctx))
	}()
}
