package router

import (
	"errors"

	"github.com/a-essam23/huddle/internal/engine"
	"github.com/a-essam23/huddle/internal/gateway"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/state"
)

// classify maps an action error onto the code and message the client sees.
// Internal errors are not described to the client.
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, engine.ErrInvalidPayload),
		errors.Is(err, state.ErrInvalidJoinCode),
		errors.Is(err, gateway.ErrEmptyMessage),
		errors.Is(err, gateway.ErrEmptyTaskRef),
		errors.Is(err, datastore.ErrValidation):
		return gateway.CodeInvalidArgument, err.Error()
	case errors.Is(err, state.ErrNotParticipant):
		return gateway.CodeForbidden, err.Error()
	case errors.Is(err, datastore.ErrNotFound):
		return gateway.CodeNotFound, err.Error()
	case datastore.IsConnectivity(err):
		return gateway.CodeUnavailable, "datastore unavailable"
	default:
		return gateway.CodeInternal, "internal error"
	}
}
