package state

import (
	"sync"

	"github.com/google/uuid"
)

// Room is the ephemeral broadcast scope for a join code. It holds no durable
// state; the group record in the datastore is the source of truth.
// All fan-out for a room happens under its mutex, so every participant sees
// the room's events in the same order.
type Room struct {
	JoinCode string

	mu           sync.Mutex
	participants map[uuid.UUID]*Participant
}

func NewRoom(joinCode string) *Room {
	return &Room{
		JoinCode:     joinCode,
		participants: make(map[uuid.UUID]*Participant),
	}
}

func (r *Room) Add(p *Participant) {
	r.mu.Lock()
	r.participants[p.ConnectionID] = p
	r.mu.Unlock()
}

// AddAndAnnounce adds p and sends frame to everyone already in the room as one step.
func (r *Room) AddAndAnnounce(p *Participant, frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := r.fanoutLocked(p.ConnectionID, frame)
	r.participants[p.ConnectionID] = p
	return delivered
}

// Remove drops connID and reports whether the room is now empty.
func (r *Room) Remove(connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, connID)
	return len(r.participants) == 0
}

func (r *Room) Has(connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[connID]
	return ok
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Broadcast sends frame to every participant except from. from must be in the room.
func (r *Room) Broadcast(from uuid.UUID, frame []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[from]; !ok {
		return 0, ErrNotParticipant
	}
	return r.fanoutLocked(from, frame), nil
}

// Announce sends frame to every participant except exclude, whether or not
// exclude is still in the room.
func (r *Room) Announce(exclude uuid.UUID, frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanoutLocked(exclude, frame)
}

func (r *Room) fanoutLocked(exclude uuid.UUID, frame []byte) int {
	delivered := 0
	for id, p := range r.participants {
		if id == exclude {
			continue
		}
		if p.Peer.Send(frame) {
			delivered++
		}
	}
	return delivered
}
