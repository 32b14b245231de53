package engine

import (
	"fmt"
	"log/slog"

	"github.com/a-essam23/huddle/pkg/pipeline"
)

func actionJoin(pctx *pipeline.Cargo) error {
	req, err := NewJoinRequest(pctx.Payload)
	if err != nil {
		return err
	}
	if err := pctx.Gateway.Join(pctx.Ctx, pctx.ConnID(), req.JoinCode); err != nil {
		return fmt.Errorf("failed to join room '%s': %w", req.JoinCode, err)
	}
	pctx.Logger.Debug("Join handled", slog.String("joinCode", req.JoinCode))
	return nil
}

func actionMessage(pctx *pipeline.Cargo) error {
	req, err := NewMessageRequest(pctx.Payload, pctx.Participant.Room())
	if err != nil {
		return err
	}
	if err := pctx.Gateway.BroadcastMessage(pctx.ConnID(), req.JoinCode, req.Text); err != nil {
		return fmt.Errorf("failed to send message to room '%s': %w", req.JoinCode, err)
	}
	return nil
}

func actionCompleteTask(pctx *pipeline.Cargo) error {
	req, err := NewCompleteTaskRequest(pctx.Payload, pctx.Participant.Room())
	if err != nil {
		return err
	}
	if err := pctx.Gateway.BroadcastTaskCompletion(pctx.Ctx, pctx.ConnID(), req.JoinCode, req.TaskID); err != nil {
		return fmt.Errorf("failed to complete task '%s': %w", req.TaskID, err)
	}
	pctx.Logger.Debug("Task completion handled", slog.String("taskID", req.TaskID))
	return nil
}

func actionLeave(pctx *pipeline.Cargo) error {
	if err := pctx.Gateway.Leave(pctx.ConnID()); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	return nil
}
