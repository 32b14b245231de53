package state

import "github.com/google/uuid"

type Manager interface {
	// --- Participant Lifecycle ---
	RegisterParticipant(peer Peer, identity Identity, ipAddr string) (*Participant, error)
	// removes the participant and its room membership; the previous room's join code is returned.
	DeregisterParticipant(connID uuid.UUID) (previousRoom string, found bool)
	GetParticipant(connID uuid.UUID) (*Participant, bool)
	FindOldestUserParticipant(userID string) (*Participant, bool)
	GetUserConnectionCount(userID string) int
	GetAllParticipants() []*Participant

	// --- Room Membership ---
	// moves the participant into joinCode (leaving any previous room) and announces
	// it to the participants already there. The Room is created if absent.
	JoinRoom(connID uuid.UUID, joinCode string, announce []byte) (room *Room, previousRoom string, err error)
	LeaveRoom(connID uuid.UUID) (previousRoom string, err error)
	FindRoom(joinCode string) (*Room, bool)
	RoomCount() int
}
