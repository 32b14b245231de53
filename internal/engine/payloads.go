package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("invalid payload")

type JoinRequest struct {
	JoinCode string
}

type MessageRequest struct {
	JoinCode string
	Text     string
}

type CompleteTaskRequest struct {
	JoinCode string
	TaskID   string
}

func payloadString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	payload := string(raw)
	if !gjson.Parse(payload).IsObject() {
		return "", fmt.Errorf("%w: expected an object", ErrInvalidPayload)
	}
	return payload, nil
}

// requiredString reads path as a non-blank string.
func requiredString(payload, path string) (string, error) {
	value := gjson.Get(payload, path)
	if !value.Exists() || value.Type != gjson.String {
		return "", fmt.Errorf("%w: '%s' must be a string", ErrInvalidPayload, path)
	}
	s := strings.TrimSpace(value.String())
	if s == "" {
		return "", fmt.Errorf("%w: '%s' cannot be empty", ErrInvalidPayload, path)
	}
	return s, nil
}

// optionalString is like requiredString but falls back to def when path is absent.
func optionalString(payload, path, def string) (string, error) {
	if !gjson.Get(payload, path).Exists() {
		return def, nil
	}
	return requiredString(payload, path)
}

func NewJoinRequest(raw json.RawMessage) (JoinRequest, error) {
	payload, err := payloadString(raw)
	if err != nil {
		return JoinRequest{}, err
	}
	code, err := requiredString(payload, "joinCode")
	if err != nil {
		return JoinRequest{}, err
	}
	return JoinRequest{JoinCode: code}, nil
}

// NewMessageRequest parses a chat payload. joinCode defaults to currentRoom.
func NewMessageRequest(raw json.RawMessage, currentRoom string) (MessageRequest, error) {
	payload, err := payloadString(raw)
	if err != nil {
		return MessageRequest{}, err
	}
	text, err := requiredString(payload, "text")
	if err != nil {
		return MessageRequest{}, err
	}
	code, err := optionalString(payload, "joinCode", currentRoom)
	if err != nil {
		return MessageRequest{}, err
	}
	return MessageRequest{JoinCode: code, Text: text}, nil
}

// NewCompleteTaskRequest parses a task completion payload. joinCode defaults to currentRoom.
func NewCompleteTaskRequest(raw json.RawMessage, currentRoom string) (CompleteTaskRequest, error) {
	payload, err := payloadString(raw)
	if err != nil {
		return CompleteTaskRequest{}, err
	}
	taskID, err := requiredString(payload, "taskId")
	if err != nil {
		return CompleteTaskRequest{}, err
	}
	code, err := optionalString(payload, "joinCode", currentRoom)
	if err != nil {
		return CompleteTaskRequest{}, err
	}
	return CompleteTaskRequest{JoinCode: code, TaskID: taskID}, nil
}
