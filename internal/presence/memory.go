package presence

import (
	"context"
	"sync"
)

// MemoryRegistry keeps presence in process memory.
// State is lost on restart and not shared between instances.
type MemoryRegistry struct {
	mu      sync.Mutex
	rooms   map[string][]RoomUser
	editors map[string][]EditorUser
}

// NewMemoryRegistry creates an empty in-process registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		rooms:   make(map[string][]RoomUser),
		editors: make(map[string][]EditorUser),
	}
}

func (m *MemoryRegistry) JoinRoom(_ context.Context, roomID, userID string, role Role) ([]RoomUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := joinRoom(m.rooms[roomID], userID, role)
	m.rooms[roomID] = users
	return copyRoom(users), nil
}

func (m *MemoryRegistry) LeaveRoom(_ context.Context, roomID, userID string) ([]RoomUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.rooms[roomID]
	if !ok {
		return []RoomUser{}, nil
	}

	users = leaveRoom(users, userID)
	if len(users) == 0 {
		delete(m.rooms, roomID)
		return []RoomUser{}, nil
	}
	m.rooms[roomID] = users
	return copyRoom(users), nil
}

func (m *MemoryRegistry) JoinEditor(_ context.Context, fileID, userID string) ([]EditorUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := joinEditor(m.editors[fileID], userID)
	m.editors[fileID] = users
	return copyEditor(users), nil
}

func (m *MemoryRegistry) LeaveEditor(_ context.Context, fileID, userID string) ([]EditorUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.editors[fileID]
	if !ok {
		return []EditorUser{}, nil
	}

	users = leaveEditor(users, userID)
	if len(users) == 0 {
		delete(m.editors, fileID)
		return []EditorUser{}, nil
	}
	m.editors[fileID] = users
	return copyEditor(users), nil
}

func (m *MemoryRegistry) RoomUsers(_ context.Context, roomID string) ([]RoomUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRoom(m.rooms[roomID]), nil
}

func (m *MemoryRegistry) EditorUsers(_ context.Context, fileID string) ([]EditorUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEditor(m.editors[fileID]), nil
}

func (m *MemoryRegistry) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Rooms: len(m.rooms), Editors: len(m.editors)}, nil
}

func copyRoom(users []RoomUser) []RoomUser {
	out := make([]RoomUser, len(users))
	copy(out, users)
	return out
}

func copyEditor(users []EditorUser) []EditorUser {
	out := make([]EditorUser, len(users))
	copy(out, users)
	return out
}
