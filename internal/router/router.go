package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/huddle/internal/gateway"
	"github.com/a-essam23/huddle/pkg/pipeline"
	"github.com/a-essam23/huddle/pkg/state"
	"github.com/google/uuid"
)

// ActionLookup resolves a client event name to its action.
type ActionLookup func(name string) (pipeline.ActionFunc, bool)

// Gateway is what the router needs from the room gateway.
type Gateway interface {
	pipeline.Gateway
	Participant(connID uuid.UUID) (*state.Participant, bool)
}

type EventRouter struct {
	logger  *slog.Logger
	gateway Gateway
	lookup  ActionLookup
}

func NewEventRouter(logger *slog.Logger, gw Gateway, lookup ActionLookup) *EventRouter {
	return &EventRouter{
		logger:  logger.With(slog.String("component", "event_router")),
		gateway: gw,
		lookup:  lookup,
	}
}

// HandleMessage decodes one inbound frame and runs its action. Failures are
// reported to the sending connection only.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	participant, ok := r.gateway.Participant(connID)
	if !ok {
		r.logger.Warn("Dropping frame from untracked connection", slog.String("connID", connID.String()))
		return
	}

	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.replyError(participant, "", gateway.CodeInvalidArgument, "malformed frame")
		return
	}

	action, ok := r.lookup(clientMsg.Event)
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
		r.replyError(participant, clientMsg.Event, gateway.CodeInvalidArgument, "unknown event '"+clientMsg.Event+"'")
		return
	}

	cargo := &pipeline.Cargo{
		Logger: r.logger.With(
			slog.String("event", clientMsg.Event),
			slog.String("connID", connID.String()),
			slog.String("userID", participant.Identity.UserID),
		),
		Ctx:         ctx,
		Participant: participant,
		Gateway:     r.gateway,
		EventName:   clientMsg.Event,
		Payload:     clientMsg.Payload,
	}
	r.logger.Debug("Executing event action", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
	if err := action(cargo); err != nil {
		code, message := classify(err)
		level := slog.LevelWarn
		if code == gateway.CodeInternal {
			level = slog.LevelError
		}
		cargo.Logger.Log(ctx, level, "Action failed", slog.String("code", code), slog.Any("error", err))
		r.replyError(participant, clientMsg.Event, code, message)
	}
}

func (r *EventRouter) replyError(p *state.Participant, event, code, message string) {
	frame, err := gateway.Encode(gateway.EventError, gateway.ErrorPayload{Code: code, Message: message, Event: event})
	if err != nil {
		r.logger.Error("Failed to encode error frame", slog.Any("error", err))
		return
	}
	p.Peer.Send(frame)
}
