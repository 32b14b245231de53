package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/degraded"
)

type healthResponse struct {
	Status      string `json:"status"`
	Connected   bool   `json:"connected"`
	Reconnected *bool  `json:"reconnected,omitempty"`
}

type groupResponse struct {
	Group    datastore.Group `json:"group"`
	Degraded bool            `json:"degraded"`
	Warning  string          `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("Failed to write response", slog.Any("error", err))
	}
}

func (a *App) health() healthResponse {
	current := a.monitor.Current()
	return healthResponse{Status: current.String(), Connected: current == connectivity.Connected}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.health())
}

// handleReconnect is the manual trigger for operational tooling. It makes at
// most one bounded attempt.
func (a *App) handleReconnect(w http.ResponseWriter, r *http.Request) {
	ok := a.supervisor.Reconnect(r.Context())
	resp := a.health()
	resp.Reconnected = &ok
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, resp)
}

func (a *App) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.Datastore.OperationTimeout)
	defer cancel()
	res, err := degraded.Execute(ctx, a.dispatcher, degraded.KindAccountCreation,
		func(ctx context.Context) (datastore.User, error) {
			return a.store.CreateUser(ctx, req.Username)
		},
		nil,
	)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if res.Outcome == degraded.Denied {
		a.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable: " + res.Warning})
		return
	}
	a.writeJSON(w, http.StatusCreated, res.Value)
}

func (a *App) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.Datastore.OperationTimeout)
	defer cancel()

	res, err := a.reconciler.LookupGroup(ctx, r.PathValue("ref"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if res.Outcome == degraded.Denied {
		a.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable: " + res.Warning})
		return
	}
	a.writeJSON(w, http.StatusOK, groupResponse{
		Group:    res.Value,
		Degraded: res.Outcome == degraded.FellBack,
		Warning:  res.Warning,
	})
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, datastore.ErrValidation):
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, datastore.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, datastore.ErrConflict):
		a.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		a.logger.Error("Request failed", slog.Any("error", err))
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
