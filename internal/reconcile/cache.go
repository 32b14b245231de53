package reconcile

import (
	"context"
	"strings"

	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/degraded"
)

// LookupGroup resolves ref live when it can and from the last seen copy when
// it cannot. A group never seen before cannot be served degraded.
func (r *Reconciler) LookupGroup(ctx context.Context, ref string) (degraded.Result[datastore.Group], error) {
	live := func(ctx context.Context) (datastore.Group, error) {
		group, err := r.ResolveGroup(ctx, ref)
		if err != nil {
			return datastore.Group{}, err
		}
		r.remember(group)
		return group, nil
	}
	fallback := func(context.Context) (datastore.Group, error) {
		group, ok := r.cached(ref)
		if !ok {
			return datastore.Group{}, degraded.ErrNoFallback
		}
		return group, nil
	}
	return degraded.Execute(ctx, r.dispatcher, degraded.KindGroupLookup, live, fallback)
}

func (r *Reconciler) remember(group datastore.Group) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if group.ID != "" {
		r.byID[group.ID] = group
	}
	if group.JoinCode != "" {
		r.byCode[group.JoinCode] = group
	}
}

func (r *Reconciler) cached(ref string) (datastore.Group, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	ref = strings.TrimSpace(ref)
	if group, ok := r.byID[ref]; ok {
		return group, true
	}
	group, ok := r.byCode[ref]
	return group, ok
}
