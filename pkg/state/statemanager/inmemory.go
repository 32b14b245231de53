package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/huddle/pkg/state"
	"github.com/google/uuid"
)

type InMemoryManager struct {
	conns map[uuid.UUID]*state.Participant
	users map[string]map[uuid.UUID]*state.Participant
	rooms map[string]*state.Room

	// guards the three maps above and every room creation/removal
	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Participant),
		users:  make(map[string]map[uuid.UUID]*state.Participant),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterParticipant(peer state.Peer, identity state.Identity, ipAddr string) (*state.Participant, error) {
	if identity.UserID == "" || identity.Username == "" {
		return nil, state.ErrInvalidIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := peer.ID()
	if existing, ok := m.conns[connID]; ok {
		return existing, nil
	}
	p := &state.Participant{
		ConnectionID: connID,
		Identity:     identity,
		IPAddress:    ipAddr,
		Peer:         peer,
		CreatedAt:    time.Now(),
	}
	m.conns[connID] = p
	byUser, ok := m.users[identity.UserID]
	if !ok {
		byUser = make(map[uuid.UUID]*state.Participant)
		m.users[identity.UserID] = byUser
	}
	byUser[connID] = p

	m.logger.Debug("Participant registered", slog.String("connID", connID.String()), slog.String("userID", identity.UserID))
	return p, nil
}

func (m *InMemoryManager) DeregisterParticipant(connID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return "", false
	}
	delete(m.conns, connID)
	if byUser, ok := m.users[p.Identity.UserID]; ok {
		delete(byUser, connID)
		if len(byUser) == 0 {
			delete(m.users, p.Identity.UserID)
		}
	}
	previous := m.leaveLocked(p)

	m.logger.Debug("Participant deregistered", slog.String("connID", connID.String()), slog.String("room", previous))
	return previous, true
}

func (m *InMemoryManager) GetParticipant(connID uuid.UUID) (*state.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.conns[connID]
	return p, ok
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryManager) FindOldestUserParticipant(userID string) (*state.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Participant
	for _, p := range m.users[userID] {
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	return oldest, oldest != nil
}

func (m *InMemoryManager) GetAllParticipants() []*state.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*state.Participant, 0, len(m.conns))
	for _, p := range m.conns {
		out = append(out, p)
	}
	return out
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, joinCode string, announce []byte) (*state.Room, string, error) {
	joinCode, err := state.NormalizeJoinCode(joinCode)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.conns[connID]
	if !ok {
		return nil, "", state.ErrUnknownConnection
	}

	previous := p.Room()
	if previous == joinCode {
		if room, ok := m.rooms[joinCode]; ok && room.Has(connID) {
			return room, previous, nil
		}
	}
	m.leaveLocked(p)

	room, exists := m.rooms[joinCode]
	if !exists {
		room = state.NewRoom(joinCode)
		m.rooms[joinCode] = room
		m.logger.Debug("Created room", slog.String("joinCode", joinCode))
	}
	if announce != nil {
		room.AddAndAnnounce(p, announce)
	} else {
		room.Add(p)
	}
	p.SetRoom(joinCode)

	m.logger.Debug("Participant joined room", slog.String("connID", connID.String()), slog.String("joinCode", joinCode))
	return room, previous, nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.conns[connID]
	if !ok {
		return "", state.ErrUnknownConnection
	}
	return m.leaveLocked(p), nil
}

// leaveLocked removes p from its room, discarding the room once empty. Caller holds m.mu.
func (m *InMemoryManager) leaveLocked(p *state.Participant) string {
	joinCode := p.Room()
	if joinCode == "" {
		return ""
	}
	p.SetRoom("")
	room, ok := m.rooms[joinCode]
	if !ok {
		return joinCode
	}
	if room.Remove(p.ConnectionID) {
		delete(m.rooms, joinCode)
		m.logger.Debug("Removed empty room", slog.String("joinCode", joinCode))
	}
	return joinCode
}

func (m *InMemoryManager) FindRoom(joinCode string) (*state.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[joinCode]
	return room, ok
}

func (m *InMemoryManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
