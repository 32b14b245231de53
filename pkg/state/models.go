package state

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrNotParticipant    = errors.New("connection is not a participant of this room")
	ErrInvalidIdentity   = errors.New("identity requires a user id and username")
	ErrInvalidJoinCode   = errors.New("join code is required")
)

// Peer is the send side of a transport connection.
type Peer interface {
	ID() uuid.UUID
	Send(message []byte) bool
	Close(err error)
}

// Identity is the already-verified user behind a connection.
type Identity struct {
	UserID   string
	Username string
}

func NewIdentity(userID, username string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		return Identity{}, ErrInvalidIdentity
	}
	return Identity{UserID: userID, Username: username}, nil
}

// NormalizeJoinCode trims the code and rejects empty ones.
func NormalizeJoinCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidJoinCode
	}
	return code, nil
}

// Participant is one live connection. It is in at most one room at a time.
type Participant struct {
	ConnectionID uuid.UUID
	Identity     Identity
	IPAddress    string
	Peer         Peer
	CreatedAt    time.Time

	mu   sync.RWMutex
	room string
}

// Room returns the join code of the participant's current room, or "".
func (p *Participant) Room() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.room
}

func (p *Participant) SetRoom(joinCode string) {
	p.mu.Lock()
	p.room = joinCode
	p.mu.Unlock()
}
