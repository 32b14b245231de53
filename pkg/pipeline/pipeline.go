package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/huddle/pkg/state"
	"github.com/google/uuid"
)

/*
 * The purpose of this is to detach the implementation of actions
 * from the actual router
 */

// Gateway is the room surface actions drive. It is implemented by the room gateway.
type Gateway interface {
	Join(ctx context.Context, connID uuid.UUID, joinCode string) error
	BroadcastMessage(connID uuid.UUID, joinCode, text string) error
	BroadcastTaskCompletion(ctx context.Context, connID uuid.UUID, joinCode, taskRef string) error
	Leave(connID uuid.UUID) error
}

type Cargo struct {
	Logger      *slog.Logger
	Ctx         context.Context
	Participant *state.Participant
	Gateway     Gateway
	EventName   string
	Payload     json.RawMessage
}

// ConnID is the id of the connection the event arrived on.
func (c *Cargo) ConnID() uuid.UUID {
	if c.Participant == nil {
		return uuid.Nil
	}
	return c.Participant.ConnectionID
}

// simple, testable functions that receive a Cargo
type ActionFunc func(pctx *Cargo) error
