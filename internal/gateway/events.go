package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server-to-client event names.
const (
	EventJoined            = "joined"
	EventMembershipChanged = "membershipChanged"
	EventMessage           = "message"
	EventTaskCompleted     = "taskCompleted"
	EventTaskCompletionAck = "taskCompletionAck"
	EventError             = "error"
)

// Error codes carried by error frames, both on the socket and on rejected
// upgrade requests.
const (
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// ClientResponse is the envelope of every frame sent to a client.
type ClientResponse struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func Encode(event string, payload any) ([]byte, error) {
	msg, err := json.Marshal(ClientResponse{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}
	return msg, nil
}

type JoinedPayload struct {
	JoinCode     string `json:"joinCode"`
	Participants int    `json:"participants"`
}

type MembershipChangedPayload struct {
	JoinCode string `json:"joinCode"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type MessagePayload struct {
	From     string    `json:"from"`
	UserID   string    `json:"userId"`
	Text     string    `json:"text"`
	JoinCode string    `json:"joinCode"`
	SentAt   time.Time `json:"sentAt"`
}

type TaskCompletedPayload struct {
	JoinCode  string `json:"joinCode"`
	TaskID    string `json:"taskId"`
	By        string `json:"by"`
	UserID    string `json:"userId"`
	Persisted bool   `json:"persisted"`
}

type TaskCompletionAckPayload struct {
	TaskID    string `json:"taskId"`
	Outcome   string `json:"outcome"`
	Persisted bool   `json:"persisted"`
	Warning   string `json:"warning,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
