// Package reconcile keeps the durable group records in step with what the
// real-time rooms have already done. Writes are best effort: a join that
// cannot be persisted right now is deferred and replayed once the datastore
// is connected again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/degraded"
)

type Options struct {
	WriteTimeout time.Duration
	MaxDeferred  int
}

type deferredJoin struct {
	UserID   string
	JoinCode string
	QueuedAt time.Time
}

type Reconciler struct {
	store      datastore.Store
	dispatcher *degraded.Dispatcher
	opts       Options

	mu       sync.Mutex
	deferred []deferredJoin
	flushing bool

	cacheMu sync.RWMutex
	byID    map[string]datastore.Group
	byCode  map[string]datastore.Group

	wg     sync.WaitGroup
	logger *slog.Logger
}

func New(logger *slog.Logger, store datastore.Store, dispatcher *degraded.Dispatcher, opts Options) *Reconciler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.MaxDeferred <= 0 {
		opts.MaxDeferred = 1024
	}
	return &Reconciler{
		store:      store,
		dispatcher: dispatcher,
		opts:       opts,
		byID:       make(map[string]datastore.Group),
		byCode:     make(map[string]datastore.Group),
		logger:     logger.With(slog.String("component", "reconciler")),
	}
}

// ResolveGroup is the one canonical lookup for a group reference. A match on
// the primary id wins over a match on the join code.
func (r *Reconciler) ResolveGroup(ctx context.Context, ref string) (datastore.Group, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return datastore.Group{}, fmt.Errorf("%w: group reference is required", datastore.ErrValidation)
	}
	group, err := r.store.GetGroupByID(ctx, ref)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, datastore.ErrNotFound) {
		return datastore.Group{}, err
	}
	return r.store.GetGroupByJoinCode(ctx, ref)
}

// RecordJoin persists userID's membership of the group behind joinCode and
// points the user's current group at it. A join code that matches no group
// yields a denied result rather than an error.
func (r *Reconciler) RecordJoin(ctx context.Context, userID, joinCode string) (degraded.Result[datastore.Group], error) {
	live := func(ctx context.Context) (datastore.Group, error) {
		return r.applyJoin(ctx, userID, joinCode)
	}
	fallback := func(context.Context) (datastore.Group, error) {
		r.enqueue(deferredJoin{UserID: userID, JoinCode: joinCode, QueuedAt: time.Now()})
		return r.synthetic(userID, joinCode), nil
	}

	res, err := degraded.Execute(ctx, r.dispatcher, degraded.KindMembershipJoin, live, fallback)
	if errors.Is(err, datastore.ErrNotFound) {
		return degraded.Result[datastore.Group]{Outcome: degraded.Denied, Warning: err.Error()}, nil
	}
	return res, err
}

func (r *Reconciler) applyJoin(ctx context.Context, userID, joinCode string) (datastore.Group, error) {
	group, err := r.ResolveGroup(ctx, joinCode)
	if err != nil {
		return datastore.Group{}, err
	}
	group, err = r.store.AddGroupMember(ctx, group.ID, userID)
	if err != nil {
		return datastore.Group{}, err
	}
	if err := r.store.SetCurrentGroup(ctx, userID, group.ID); err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			return datastore.Group{}, err
		}
		// membership is recorded; a missing account record is only logged
		r.logger.Warn("No user record to update current group", slog.String("userID", userID), slog.String("groupID", group.ID))
	}
	r.remember(group)
	return group, nil
}

// synthetic is what a degraded join reports: the cached group with the user
// added, or a placeholder keyed by the join code.
func (r *Reconciler) synthetic(userID, joinCode string) datastore.Group {
	group, ok := r.cached(joinCode)
	if !ok {
		group = datastore.Group{JoinCode: joinCode}
	}
	if !group.HasMember(userID) {
		members := make([]string, 0, len(group.Members)+1)
		members = append(members, group.Members...)
		group.Members = append(members, userID)
	}
	return group
}

// RecordJoinAsync runs RecordJoin on a detached goroutine with its own
// timeout. The caller never waits for it and its failure is only logged.
func (r *Reconciler) RecordJoinAsync(userID, joinCode string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		defer cancel()

		logger := r.logger.With(slog.String("userID", userID), slog.String("joinCode", joinCode))
		res, err := r.RecordJoin(ctx, userID, joinCode)
		if err != nil {
			logger.Error("Failed to record room join", slog.Any("error", err))
			return
		}
		switch res.Outcome {
		case degraded.Executed:
			logger.Debug("Room join persisted", slog.String("groupID", res.Value.ID))
		case degraded.FellBack:
			logger.Warn("Room join deferred", slog.String("warning", res.Warning))
		case degraded.Denied:
			logger.Warn("Room join has no durable group", slog.String("warning", res.Warning))
		}
	}()
}

// Wait blocks until every RecordJoinAsync and flush started so far has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) enqueue(job deferredJoin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deferred) >= r.opts.MaxDeferred {
		dropped := r.deferred[0]
		r.deferred = r.deferred[1:]
		r.logger.Warn("Deferred join queue full, dropping oldest",
			slog.String("userID", dropped.UserID),
			slog.String("joinCode", dropped.JoinCode),
		)
	}
	r.deferred = append(r.deferred, job)
}

// Deferred returns how many joins are waiting to be replayed.
func (r *Reconciler) Deferred() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred)
}

// FlushDeferred replays queued joins in order. It stops at the first
// connectivity error and requeues what is left. It returns how many joins were
// written.
func (r *Reconciler) FlushDeferred(ctx context.Context) int {
	r.mu.Lock()
	if r.flushing || len(r.deferred) == 0 {
		r.mu.Unlock()
		return 0
	}
	r.flushing = true
	pending := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.flushing = false
		r.mu.Unlock()
	}()

	written := 0
	for i, job := range pending {
		writeCtx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
		_, err := r.applyJoin(writeCtx, job.UserID, job.JoinCode)
		cancel()

		switch {
		case err == nil:
			written++
		case datastore.IsConnectivity(err):
			r.requeue(pending[i:])
			r.logger.Warn("Deferred join flush interrupted", slog.Int("remaining", len(pending)-i), slog.Any("error", err))
			return written
		default:
			r.logger.Warn("Dropping deferred join",
				slog.String("userID", job.UserID),
				slog.String("joinCode", job.JoinCode),
				slog.Any("error", err),
			)
		}
	}
	r.logger.Info("Deferred joins flushed", slog.Int("written", written), slog.Int("queued", len(pending)))
	return written
}

// requeue puts jobs back ahead of anything queued during the flush.
func (r *Reconciler) requeue(jobs []deferredJoin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make([]deferredJoin, 0, len(jobs)+len(r.deferred))
	merged = append(merged, jobs...)
	merged = append(merged, r.deferred...)
	if over := len(merged) - r.opts.MaxDeferred; over > 0 {
		merged = merged[over:]
	}
	r.deferred = merged
}

// OnTransition flushes the deferred queue whenever the datastore becomes
// connected. It has the shape of a connectivity.TransitionFunc.
func (r *Reconciler) OnTransition(_, next connectivity.State) {
	if next != connectivity.Connected {
		return
	}
	r.FlushAsync()
}

// FlushAsync replays the deferred queue in the background if anything is
// queued. Joins deferred by a transient error never see a Connected
// transition, so healthy probes call this too.
func (r *Reconciler) FlushAsync() {
	if r.Deferred() == 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.FlushDeferred(context.Background())
	}()
}
