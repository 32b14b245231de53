package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-essam23/huddle/pkg/logging"
	"github.com/stretchr/testify/assert"
)

// fakeConnector reports transitions to the monitor like a real driver would.
type fakeConnector struct {
	monitor *Monitor
	delay   time.Duration
	err     error
	calls   atomic.Int32
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.calls.Add(1)
	f.monitor.Observe(Connecting)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		f.monitor.Observe(Disconnected)
		return ctx.Err()
	}
	if f.err != nil {
		f.monitor.Observe(Disconnected)
		return f.err
	}
	f.monitor.Observe(Connected)
	return nil
}

func TestReconnect_NoopWhenConnected(t *testing.T) {
	m := NewMonitor(logging.Discard())
	m.Observe(Connected)
	conn := &fakeConnector{monitor: m}
	s := NewSupervisor(logging.Discard(), m, conn, time.Second)

	assert.True(t, s.Reconnect(context.Background()))
	assert.Equal(t, int32(0), conn.calls.Load())
	assert.Equal(t, int64(0), s.Attempts())
}

func TestReconnect_SingleFlight(t *testing.T) {
	m := NewMonitor(logging.Discard())
	conn := &fakeConnector{monitor: m, delay: 50 * time.Millisecond}
	s := NewSupervisor(logging.Discard(), m, conn, time.Second)

	const callers = 20
	results := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Reconnect(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), conn.calls.Load(), "exactly one underlying attempt")
	assert.Equal(t, int64(1), s.Attempts())
	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, Connected, m.Current())
}

func TestReconnect_FailureSharedByAllCallers(t *testing.T) {
	m := NewMonitor(logging.Discard())
	conn := &fakeConnector{monitor: m, delay: 30 * time.Millisecond, err: errors.New("dial refused")}
	s := NewSupervisor(logging.Discard(), m, conn, time.Second)

	var wg sync.WaitGroup
	var trues atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Reconnect(context.Background()) {
				trues.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, int32(0), trues.Load())
	assert.Equal(t, Disconnected, m.Current())

	// a later call is a fresh attempt
	assert.False(t, s.Reconnect(context.Background()))
	assert.Equal(t, int32(2), conn.calls.Load())
}

func TestReconnect_BoundedByTimeout(t *testing.T) {
	m := NewMonitor(logging.Discard())
	conn := &fakeConnector{monitor: m, delay: time.Hour}
	s := NewSupervisor(logging.Discard(), m, conn, 40*time.Millisecond)

	start := time.Now()
	assert.False(t, s.Reconnect(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, m.Current())
}

func TestReconnect_CallerCancellationDoesNotAbortSharedAttempt(t *testing.T) {
	m := NewMonitor(logging.Discard())
	conn := &fakeConnector{monitor: m, delay: 60 * time.Millisecond}
	s := NewSupervisor(logging.Discard(), m, conn, time.Second)

	impatient, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() { done <- s.Reconnect(context.Background()) }()
	time.Sleep(5 * time.Millisecond)

	assert.False(t, s.Reconnect(impatient))
	assert.True(t, <-done)
	assert.Equal(t, int32(1), conn.calls.Load())
}
