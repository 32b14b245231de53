package degraded

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedState connectivity.State

func (s fixedState) Current() connectivity.State { return connectivity.State(s) }

func newDispatcher(state connectivity.State, recover func(context.Context)) *Dispatcher {
	return NewDispatcher(logging.Discard(), fixedState(state), DefaultPolicy(), recover)
}

func TestExecute_ConnectedLiveSucceeds(t *testing.T) {
	d := newDispatcher(connectivity.Connected, nil)

	res, err := Execute(context.Background(), d, KindTaskCompletion,
		func(context.Context) (string, error) { return "live", nil },
		func(context.Context) (string, error) { return "synthetic", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, Executed, res.Outcome)
	assert.Equal(t, "live", res.Value)
	assert.Empty(t, res.Warning)
}

func TestExecute_ConnectedConnectivityErrorFallsBack(t *testing.T) {
	kicked := make(chan struct{}, 1)
	d := newDispatcher(connectivity.Connected, func(context.Context) { kicked <- struct{}{} })

	res, err := Execute(context.Background(), d, KindTaskCompletion,
		func(context.Context) (string, error) { return "", fmt.Errorf("update task: %w", datastore.ErrUnavailable) },
		func(context.Context) (string, error) { return "synthetic", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, FellBack, res.Outcome)
	assert.Equal(t, "synthetic", res.Value)
	assert.NotEmpty(t, res.Warning)

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("recovery was not kicked")
	}
}

func TestExecute_ConnectedValidationErrorPropagates(t *testing.T) {
	d := newDispatcher(connectivity.Connected, nil)
	validation := fmt.Errorf("%w: title is required", datastore.ErrValidation)
	fallbackCalled := false

	_, err := Execute(context.Background(), d, KindTaskCompletion,
		func(context.Context) (int, error) { return 0, validation },
		func(context.Context) (int, error) { fallbackCalled = true; return 1, nil },
	)
	assert.ErrorIs(t, err, datastore.ErrValidation)
	assert.False(t, fallbackCalled)
}

func TestExecute_DisconnectedDenyNeverRunsLive(t *testing.T) {
	d := newDispatcher(connectivity.Disconnected, nil)
	var liveCalls atomic.Int32

	res, err := Execute(context.Background(), d, KindAccountCreation,
		func(context.Context) (string, error) { liveCalls.Add(1); return "user", nil },
		func(context.Context) (string, error) { return "fake", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, int32(0), liveCalls.Load())
	assert.Empty(t, res.Value)
}

func TestExecute_DisconnectedSyntheticFallback(t *testing.T) {
	d := newDispatcher(connectivity.Connecting, nil)
	var liveCalls atomic.Int32

	res, err := Execute(context.Background(), d, KindTaskCompletion,
		func(context.Context) (bool, error) { liveCalls.Add(1); return true, nil },
		func(context.Context) (bool, error) { return true, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, FellBack, res.Outcome)
	assert.True(t, res.Value)
	assert.Contains(t, res.Warning, "connecting")
	assert.Equal(t, int32(0), liveCalls.Load())
}

func TestExecute_CacheMissIsDenied(t *testing.T) {
	d := newDispatcher(connectivity.Disconnected, nil)

	res, err := Execute(context.Background(), d, KindGroupLookup,
		func(context.Context) (string, error) { return "", nil },
		func(context.Context) (string, error) { return "", ErrNoFallback },
	)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
}

func TestExecute_FallbackErrorPropagates(t *testing.T) {
	d := newDispatcher(connectivity.Disconnected, nil)
	boom := errors.New("boom")

	_, err := Execute(context.Background(), d, KindTaskCompletion,
		func(context.Context) (string, error) { return "", nil },
		func(context.Context) (string, error) { return "", boom },
	)
	assert.ErrorIs(t, err, boom)
}

func TestExecute_UnknownKindDenied(t *testing.T) {
	d := newDispatcher(connectivity.Disconnected, nil)

	res, err := Execute(context.Background(), d, Kind("somethingElse"),
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 2, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
}

func TestExecute_DoesNotWaitForRecovery(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	d := newDispatcher(connectivity.Disconnected, func(context.Context) {
		runs.Add(1)
		<-release
	})
	defer close(release)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := Execute(context.Background(), d, KindTaskCompletion,
			func(context.Context) (int, error) { return 1, nil },
			func(context.Context) (int, error) { return 0, nil },
		)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "only one recovery outstanding at a time")
}

func TestParseFallback(t *testing.T) {
	f, err := ParseFallback("serveCachedValue")
	require.NoError(t, err)
	assert.Equal(t, ServeCachedValue, f)

	f, err = ParseFallback("DENY")
	require.NoError(t, err)
	assert.Equal(t, Deny, f)

	_, err = ParseFallback("retry")
	assert.Error(t, err)
}

func TestParseKindIgnoresCase(t *testing.T) {
	assert.Equal(t, KindTaskCompletion, ParseKind("taskcompletion"))
	assert.Equal(t, Kind("custom"), ParseKind("custom"))
}

func TestPolicyDefaults(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, Deny, p.For(KindAccountCreation))
	assert.Equal(t, ServeSynthetic, p.For(KindTaskCompletion))
	assert.Equal(t, ServeSynthetic, p.For(KindMembershipJoin))
	assert.Equal(t, ServeCachedValue, p.For(KindGroupLookup))
}
