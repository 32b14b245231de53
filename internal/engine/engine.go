package engine

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/a-essam23/huddle/pkg/pipeline"
)

// Client event names.
const (
	EventJoin         = "join"
	EventMessage      = "message"
	EventCompleteTask = "completeTask"
	EventLeave        = "leave"
)

/*
* The central registry for all client events the gateway understands.
* It is a single, stateful object mapping an event name to its action.
 */
type Registry struct {
	logger   *slog.Logger
	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex
}

// New creates and initializes a new Registry instance.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		actions: make(map[string]pipeline.ActionFunc),
		logger:  logger.With(slog.String("component", "engine")),
	}
}

func (e *Registry) RegisterCore() {
	e.RegisterAction(EventJoin, actionJoin)
	e.RegisterAction(EventMessage, actionMessage)
	e.RegisterAction(EventCompleteTask, actionCompleteTask)
	e.RegisterAction(EventLeave, actionLeave)
	e.logger.Info("Registered core actions", slog.Int("count", len(e.actions)))
}

// --- Action Methods ---
func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

// Names returns the registered event names in sorted order.
func (e *Registry) Names() []string {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	names := make([]string, 0, len(e.actions))
	for k := range e.actions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
