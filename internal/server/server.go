package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/huddle/internal/engine"
	"github.com/a-essam23/huddle/internal/gateway"
	"github.com/a-essam23/huddle/internal/reconcile"
	"github.com/a-essam23/huddle/internal/router"
	"github.com/a-essam23/huddle/internal/server/middleware"
	"github.com/a-essam23/huddle/pkg/config"
	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore/sqlitestore"
	"github.com/a-essam23/huddle/pkg/degraded"
	"github.com/a-essam23/huddle/pkg/state"
	"github.com/a-essam23/huddle/pkg/state/statemanager"
	"github.com/a-essam23/huddle/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	errShutdown = errors.New("graceful shutdown")
	errCycled   = errors.New("connection cycled by new connection")
)

type App struct {
	logger       *slog.Logger
	config       *config.Config
	monitor      *connectivity.Monitor
	store        *sqlitestore.Store
	supervisor   *connectivity.Supervisor
	prober       *sqlitestore.Prober
	dispatcher   *degraded.Dispatcher
	reconciler   *reconcile.Reconciler
	stateManager state.Manager
	gateway      *gateway.Gateway
	eventRouter  *router.EventRouter

	wg      sync.WaitGroup // websocket pumps
	bg      sync.WaitGroup // prober
	stopBg  context.CancelFunc
	handler http.Handler
	http    *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	policy, err := config.CompileFallbackPolicy(cfg.Fallback)
	if err != nil {
		return nil, err
	}

	monitor := connectivity.NewMonitor(logger)
	store, err := sqlitestore.New(logger, cfg.Datastore.Path, monitor)
	if err != nil {
		return nil, fmt.Errorf("create datastore: %w", err)
	}
	supervisor := connectivity.NewSupervisor(logger, monitor, store, cfg.Datastore.ReconnectTimeout)
	prober := sqlitestore.NewProber(logger, store, monitor, supervisor.Reconnect, cfg.Datastore.ProbeInterval)

	app := &App{
		logger:     logger,
		config:     cfg,
		monitor:    monitor,
		store:      store,
		supervisor: supervisor,
		prober:     prober,
		ctx:        rootCtx,
	}
	app.dispatcher = degraded.NewDispatcher(logger, monitor, policy, app.recoverDatastore)
	app.reconciler = reconcile.New(logger, store, app.dispatcher, reconcile.Options{
		WriteTimeout: cfg.Reconcile.WriteTimeout,
		MaxDeferred:  cfg.Reconcile.MaxDeferred,
	})
	monitor.OnTransition(app.reconciler.OnTransition)
	prober.OnHealthy(func(context.Context) { app.reconciler.FlushAsync() })

	app.stateManager = statemanager.NewInMemoryManager(logger)
	app.gateway = gateway.New(logger, app.stateManager, app.dispatcher, store, app.reconciler, gateway.Options{
		OperationTimeout: cfg.Datastore.OperationTimeout,
	})

	registry := engine.New(logger)
	registry.RegisterCore()
	app.eventRouter = router.NewEventRouter(logger, app.gateway, registry.GetActionFunc)

	app.handler = app.routes()
	app.http = &http.Server{Addr: cfg.Server.Address, Handler: app.handler, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}
	return app, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	connCounter := middleware.UserConnectionCounter(a.stateManager.GetUserConnectionCount)
	// closes the user's oldest connection to make room for a new one.
	connCycler := func(userID string) {
		oldest, found := a.stateManager.FindOldestUserParticipant(userID)
		if found {
			a.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ConnectionID.String()))
			oldest.Peer.Close(errCycled)
		}
	}

	base := middleware.Stack{
		middleware.RequestMetadataMiddleware(a.config.Server.TrustProxyHeaders),
		middleware.NewRequestLogger(a.logger),
	}
	ws := base.With(
		middleware.NewAuthMiddleware(a.logger, a.config.Server.Auth.JWTSecret),
		middleware.NewConnectionLimiter(a.logger, connCounter, connCycler, a.config.Server.ConnectionLimit),
	)

	mux.Handle("/ws", ws.ThenFunc(a.upgradeHandler))
	api := base.ThenFunc
	mux.Handle("GET /health", api(a.handleHealth))
	mux.Handle("POST /health/reconnect", api(a.handleReconnect))
	mux.Handle("POST /api/accounts", api(a.handleCreateAccount))
	mux.Handle("GET /api/groups/{ref}", api(a.handleGetGroup))
	return mux
}

// Handler exposes the routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start connects the datastore and launches the prober. It waits at most the
// configured connect timeout and reports whether the datastore came up; the
// app serves degraded until it does.
func (a *App) Start() bool {
	go a.supervisor.Reconnect(a.ctx)
	connected := a.monitor.WaitUntilConnected(a.ctx, a.config.Datastore.ConnectTimeout)
	if !connected {
		a.logger.Warn("Datastore not connected at startup, serving degraded", slog.String("state", a.monitor.Current().String()))
	}

	bgCtx, cancel := context.WithCancel(a.ctx)
	a.stopBg = cancel
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.prober.Run(bgCtx)
	}()
	return connected
}

func (a *App) Run() error {
	a.Start()
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// recoverDatastore is the dispatcher's background hook. A live error while
// Connected is confirmed with a probe before reconnecting.
func (a *App) recoverDatastore(ctx context.Context) {
	if a.monitor.Current() == connectivity.Connected {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.store.Probe(probeCtx)
		cancel()
		if err == nil {
			// the error was transient; replay anything it deferred
			a.reconciler.FlushAsync()
			return
		}
	}
	a.supervisor.Reconnect(ctx)
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("requestID", reqMeta.RequestID),
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)
	identity, err := state.NewIdentity(reqMeta.UserID, reqMeta.Username)
	if err != nil {
		connLogger.Warn("Rejecting connection without identity", slog.Any("error", err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)
	if _, err := a.gateway.Connect(conn, identity, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register participant", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.gateway.Disconnect(id)
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...", slog.Int("count", a.gateway.CloseAll(errShutdown)))
	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if a.stopBg != nil {
		a.stopBg()
	}
	a.bg.Wait()
	a.reconciler.Wait()

	if err := a.store.Disconnect(shutdownCtx); err != nil {
		a.logger.Warn("Datastore disconnect failed", slog.Any("error", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
