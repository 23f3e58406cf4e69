// Package presence tracks who is in which room and which file editor.
//
// Presence is ephemeral: nothing here is persisted to the document store.
// Two backends exist, an in-process map (MemoryRegistry) and a Redis-backed
// one (RedisRegistry) for running several server instances behind one URL.
package presence

import "context"

// Role is the role a user joins a room with
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleObserver  Role = "observer"
)

// IsObserver reports whether the role watches the room instead of editing in it.
// Observers get the reserved cursor color.
func (r Role) IsObserver() bool {
	return r == RoleProfessor || r == RoleObserver
}

// Cursor is the display attribute pair shown next to a user's caret
type Cursor struct {
	Color string `json:"color"`
	Light string `json:"light"`
}

// Palette is the fixed set of participant cursors, assigned in order
var Palette = []Cursor{
	{Color: "#30bced", Light: "#30bced33"},
	{Color: "#6eeb83", Light: "#6eeb8333"},
	{Color: "#ffbc42", Light: "#ffbc4233"},
	{Color: "#ecd444", Light: "#ecd44433"},
	{Color: "#ee6352", Light: "#ee635233"},
	{Color: "#9ac2c9", Light: "#9ac2c933"},
	{Color: "#8acb88", Light: "#8acb8833"},
	{Color: "#1be7ff", Light: "#1be7ff33"},
}

// ObserverCursor is reserved for observers and never handed to participants
var ObserverCursor = Cursor{Color: "#000000", Light: "#00000033"}

// RoomUser is one occupant of a room
type RoomUser struct {
	UserID string `json:"user_id"`
	Cursor Cursor `json:"cursor"`
}

// EditorUser is one user with a file open
type EditorUser struct {
	UserID string `json:"user_id"`
	Line   int    `json:"line"`
}

// Stats is a point-in-time count of live presence groups
type Stats struct {
	Rooms   int `json:"rooms"`
	Editors int `json:"editors"`
}

// Registry is the presence store. Every method is atomic with respect to the
// others and returns a copy the caller may keep.
type Registry interface {
	JoinRoom(ctx context.Context, roomID, userID string, role Role) ([]RoomUser, error)
	LeaveRoom(ctx context.Context, roomID, userID string) ([]RoomUser, error)
	JoinEditor(ctx context.Context, fileID, userID string) ([]EditorUser, error)
	LeaveEditor(ctx context.Context, fileID, userID string) ([]EditorUser, error)
	RoomUsers(ctx context.Context, roomID string) ([]RoomUser, error)
	EditorUsers(ctx context.Context, fileID string) ([]EditorUser, error)
	Stats(ctx context.Context) (Stats, error)
}

// assignCursor picks the cursor for a user joining a room with the given
// occupants: the first palette entry nobody holds, or a cycled one once the
// palette is exhausted.
func assignCursor(occupants []RoomUser, role Role) Cursor {
	if role.IsObserver() {
		return ObserverCursor
	}

	used := make(map[string]bool, len(occupants))
	for _, u := range occupants {
		used[u.Cursor.Color] = true
	}
	for _, c := range Palette {
		if !used[c.Color] {
			return c
		}
	}
	return Palette[len(occupants)%len(Palette)]
}

// joinRoom applies a room join to a list; shared by both backends
func joinRoom(users []RoomUser, userID string, role Role) []RoomUser {
	for _, u := range users {
		if u.UserID == userID {
			return users
		}
	}
	return append(users, RoomUser{UserID: userID, Cursor: assignCursor(users, role)})
}

func leaveRoom(users []RoomUser, userID string) []RoomUser {
	out := users[:0:0]
	for _, u := range users {
		if u.UserID != userID {
			out = append(out, u)
		}
	}
	return out
}

func joinEditor(users []EditorUser, userID string) []EditorUser {
	for _, u := range users {
		if u.UserID == userID {
			return users
		}
	}
	return append(users, EditorUser{UserID: userID, Line: 0})
}

func leaveEditor(users []EditorUser, userID string) []EditorUser {
	out := users[:0:0]
	for _, u := range users {
		if u.UserID != userID {
			out = append(out, u)
		}
	}
	return out
}
