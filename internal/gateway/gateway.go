// Package gateway owns the real-time rooms: who is connected, which room each
// connection is in, and the fan-out of membership, chat and task events.
// Nothing here waits on the datastore except the bounded task completion write.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/degraded"
	"github.com/a-essam23/huddle/pkg/pipeline"
	"github.com/a-essam23/huddle/pkg/state"
	"github.com/google/uuid"
)

var (
	ErrEmptyMessage = errors.New("message text is required")
	ErrEmptyTaskRef = errors.New("task reference is required")
)

// Membership records joins durably. It must not block the caller.
type Membership interface {
	RecordJoinAsync(userID, joinCode string)
}

// TaskStore is the part of the datastore task completion writes to.
type TaskStore interface {
	SetTaskCompleted(ctx context.Context, taskID string, completed bool) (datastore.Task, error)
}

type Options struct {
	OperationTimeout time.Duration
}

type Gateway struct {
	state      state.Manager
	dispatcher *degraded.Dispatcher
	tasks      TaskStore
	membership Membership
	opts       Options

	logger *slog.Logger
}

var _ pipeline.Gateway = (*Gateway)(nil)

func New(logger *slog.Logger, manager state.Manager, dispatcher *degraded.Dispatcher, tasks TaskStore, membership Membership, opts Options) *Gateway {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 3 * time.Second
	}
	return &Gateway{
		state:      manager,
		dispatcher: dispatcher,
		tasks:      tasks,
		membership: membership,
		opts:       opts,
		logger:     logger.With(slog.String("component", "room_gateway")),
	}
}

// Connect registers a freshly accepted connection. It is in no room yet.
func (g *Gateway) Connect(peer state.Peer, identity state.Identity, ip string) (*state.Participant, error) {
	p, err := g.state.RegisterParticipant(peer, identity, ip)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Participant connected",
		slog.String("connID", p.ConnectionID.String()),
		slog.String("userID", identity.UserID),
	)
	return p, nil
}

func (g *Gateway) participant(connID uuid.UUID, op string) (*state.Participant, bool) {
	p, ok := g.state.GetParticipant(connID)
	if !ok {
		g.logger.Warn("Ignoring operation for untracked connection", slog.String("op", op), slog.String("connID", connID.String()))
	}
	return p, ok
}

// Join moves the connection into joinCode's room, creating the room if
// needed. Everyone already there gets membershipChanged and the joiner gets
// joined. The durable membership write is scheduled and never awaited.
func (g *Gateway) Join(ctx context.Context, connID uuid.UUID, joinCode string) error {
	p, ok := g.participant(connID, "join")
	if !ok {
		return nil
	}
	code, err := state.NormalizeJoinCode(joinCode)
	if err != nil {
		return err
	}

	announce, err := Encode(EventMembershipChanged, MembershipChangedPayload{
		JoinCode: code,
		UserID:   p.Identity.UserID,
		Username: p.Identity.Username,
	})
	if err != nil {
		return err
	}
	room, previous, err := g.state.JoinRoom(connID, code, announce)
	if err != nil {
		return err
	}

	ack, err := Encode(EventJoined, JoinedPayload{JoinCode: code, Participants: room.Size()})
	if err != nil {
		return err
	}
	p.Peer.Send(ack)

	g.logger.Info("Participant joined room",
		slog.String("connID", connID.String()),
		slog.String("joinCode", code),
		slog.String("previousRoom", previous),
	)
	if g.membership != nil {
		g.membership.RecordJoinAsync(p.Identity.UserID, code)
	}
	return nil
}

// BroadcastMessage relays text to everyone in joinCode except the sender.
// The sender must currently be in that room.
func (g *Gateway) BroadcastMessage(connID uuid.UUID, joinCode, text string) error {
	p, ok := g.participant(connID, "message")
	if !ok {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	room, err := g.roomOf(connID, joinCode)
	if err != nil {
		return err
	}

	frame, err := Encode(EventMessage, MessagePayload{
		From:     p.Identity.Username,
		UserID:   p.Identity.UserID,
		Text:     text,
		JoinCode: room.JoinCode,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	delivered, err := room.Broadcast(connID, frame)
	if err != nil {
		return err
	}
	g.logger.Debug("Message broadcast", slog.String("joinCode", room.JoinCode), slog.Int("delivered", delivered))
	return nil
}

// BroadcastTaskCompletion marks the task complete through the dispatcher and
// then tells the room, whatever the persistence outcome. Membership is checked
// before the write only. The sender gets an ack carrying the outcome.
// Validation and lookup errors reach only the sender.
func (g *Gateway) BroadcastTaskCompletion(ctx context.Context, connID uuid.UUID, joinCode, taskRef string) error {
	p, ok := g.participant(connID, "completeTask")
	if !ok {
		return nil
	}
	taskRef = strings.TrimSpace(taskRef)
	if taskRef == "" {
		return ErrEmptyTaskRef
	}
	room, err := g.roomOf(connID, joinCode)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opts.OperationTimeout)
	defer cancel()
	res, err := degraded.Execute(opCtx, g.dispatcher, degraded.KindTaskCompletion,
		func(ctx context.Context) (datastore.Task, error) {
			return g.tasks.SetTaskCompleted(ctx, taskRef, true)
		},
		func(context.Context) (datastore.Task, error) {
			now := time.Now().UTC()
			return datastore.Task{ID: taskRef, Completed: true, CompletedAt: &now}, nil
		},
	)
	if err != nil {
		return fmt.Errorf("complete task %q: %w", taskRef, err)
	}
	persisted := res.Outcome == degraded.Executed

	frame, err := Encode(EventTaskCompleted, TaskCompletedPayload{
		JoinCode:  room.JoinCode,
		TaskID:    taskRef,
		By:        p.Identity.Username,
		UserID:    p.Identity.UserID,
		Persisted: persisted,
	})
	if err != nil {
		return err
	}
	// the sender may have left or switched rooms during the write; the
	// completion is still announced to whoever holds the code now
	if current, ok := g.state.FindRoom(room.JoinCode); ok {
		current.Announce(connID, frame)
	}

	ack, err := Encode(EventTaskCompletionAck, TaskCompletionAckPayload{
		TaskID:    taskRef,
		Outcome:   string(res.Outcome),
		Persisted: persisted,
		Warning:   res.Warning,
	})
	if err != nil {
		return err
	}
	p.Peer.Send(ack)

	if !persisted {
		g.logger.Warn("Task completion broadcast without persistence",
			slog.String("taskID", taskRef),
			slog.String("outcome", string(res.Outcome)),
			slog.String("warning", res.Warning),
		)
	}
	return nil
}

func (g *Gateway) roomOf(connID uuid.UUID, joinCode string) (*state.Room, error) {
	code, err := state.NormalizeJoinCode(joinCode)
	if err != nil {
		return nil, err
	}
	room, ok := g.state.FindRoom(code)
	if !ok || !room.Has(connID) {
		return nil, state.ErrNotParticipant
	}
	return room, nil
}

// Leave takes the connection out of its room without telling anyone.
func (g *Gateway) Leave(connID uuid.UUID) error {
	if _, ok := g.participant(connID, "leave"); !ok {
		return nil
	}
	previous, err := g.state.LeaveRoom(connID)
	if err != nil {
		return err
	}
	if previous != "" {
		g.logger.Info("Participant left room", slog.String("connID", connID.String()), slog.String("joinCode", previous))
	}
	return nil
}

// Disconnect forgets the connection. Its room is discarded if it was the last
// one in it. No event is sent to the remaining participants.
func (g *Gateway) Disconnect(connID uuid.UUID) {
	previous, found := g.state.DeregisterParticipant(connID)
	if !found {
		g.logger.Warn("Disconnect for untracked connection", slog.String("connID", connID.String()))
		return
	}
	g.logger.Info("Participant disconnected", slog.String("connID", connID.String()), slog.String("previousRoom", previous))
}

// CloseAll closes every tracked connection, for shutdown.
func (g *Gateway) CloseAll(reason error) int {
	participants := g.state.GetAllParticipants()
	for _, p := range participants {
		p.Peer.Close(reason)
	}
	return len(participants)
}

// Participant exposes the registry lookup to transport callbacks.
func (g *Gateway) Participant(connID uuid.UUID) (*state.Participant, bool) {
	return g.state.GetParticipant(connID)
}

func (g *Gateway) RoomCount() int {
	return g.state.RoomCount()
}
