package api

import (
	"context"

	"coderoom/internal/models"
	"coderoom/internal/services/collaboration"
)

// The handlers consume these; implementations live in repository,
// presence and collaboration.

// HistoryReader serves file history views
type HistoryReader interface {
	GetHistory(ctx context.Context, fileID string) (*collaboration.HistoryView, error)
}

// FileLister lists the files of a room
type FileLister interface {
	ListByRoom(ctx context.Context, roomID string) ([]*models.File, error)
}

// RosterStore keeps the recorded member list of a room
type RosterStore interface {
	RefreshRecordedMembers(ctx context.Context, roomID string, members []string) (bool, error)
}

// UserStore accepts directory updates from the user service
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) error
}

// ConnectionCounter reports live connections on this instance
type ConnectionCounter interface {
	Connections() int
}
