package sqlitestore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/huddle/pkg/connectivity"
)

// Prober periodically pings the store. While connected, failed pings past
// maxFailures tear the connection down; while disconnected, every tick asks
// the recover callback (the reconnection supervisor) for one bounded attempt.
type Prober struct {
	store       *Store
	monitor     *connectivity.Monitor
	recover     func(ctx context.Context) bool
	onHealthy   func(ctx context.Context)
	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	mu               sync.Mutex
	consecutiveFails int
	lastHealthy      time.Time

	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewProber(logger *slog.Logger, store *Store, monitor *connectivity.Monitor, recover func(ctx context.Context) bool, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Prober{
		store:       store,
		monitor:     monitor,
		recover:     recover,
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		logger:      logger.With(slog.String("component", "datastore_prober")),
	}
}

// OnHealthy registers fn to run after every successful ping. fn must not block.
// Call it before Run.
func (p *Prober) OnHealthy(fn func(ctx context.Context)) {
	p.onHealthy = fn
}

// Run blocks until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Datastore prober started", slog.Duration("interval", p.interval))
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			p.logger.Info("Datastore prober stopping")
			return
		}
	}
}

// Wait blocks until Run has returned.
func (p *Prober) Wait() {
	p.wg.Wait()
}

func (p *Prober) tick(ctx context.Context) {
	switch p.monitor.Current() {
	case connectivity.Connected:
		p.check(ctx)
	case connectivity.Disconnected:
		if p.recover != nil && p.recover(ctx) {
			p.mu.Lock()
			p.consecutiveFails = 0
			p.lastHealthy = time.Now()
			p.mu.Unlock()
		}
	}
}

func (p *Prober) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	db, err := p.store.handle()
	if err == nil {
		err = db.PingContext(checkCtx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.consecutiveFails = 0
		p.lastHealthy = time.Now()
		if p.onHealthy != nil {
			p.onHealthy(ctx)
		}
		return
	}
	p.consecutiveFails++
	p.logger.Warn("Datastore ping failed",
		slog.Int("attempt", p.consecutiveFails),
		slog.Int("maxFailures", p.maxFailures),
		slog.Any("error", err),
	)
	if p.consecutiveFails >= p.maxFailures {
		p.logger.Error("Datastore marked unreachable", slog.Int("failures", p.consecutiveFails))
		_ = p.store.Disconnect(ctx)
		p.consecutiveFails = 0
	}
}

// LastHealthy returns when the store last answered a ping.
func (p *Prober) LastHealthy() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHealthy
}
