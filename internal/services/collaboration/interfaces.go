package collaboration

import (
	"context"
	"time"

	"coderoom/internal/models"
	"coderoom/internal/repository"
)

// FileStore is what the collaboration core needs from the file repository
type FileStore interface {
	Create(ctx context.Context, in *models.FileCreate) (*models.File, error)
	GetByID(ctx context.Context, id string) (*models.File, error)
	ListByRoom(ctx context.Context, roomID string) ([]*models.File, error)
	Delete(ctx context.Context, id string) error
	SetContent(ctx context.Context, id, content string) (*models.File, error)
	AppendSnapshot(ctx context.Context, fileID, content string, now time.Time, decide repository.SnapshotDecider) (*models.Snapshot, bool, error)
	History(ctx context.Context, fileID string) ([]*models.Snapshot, error)
	IncrementContribution(ctx context.Context, fileID, userID string) error
	Contributions(ctx context.Context, fileID string) ([]*models.Contribution, error)
}

// RoomStore persists the non-file room state
type RoomStore interface {
	SaveNotes(ctx context.Context, roomID, notes string) error
	LoadNotes(ctx context.Context, roomID string) (string, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	Messages(ctx context.Context, roomID string) ([]*models.ChatMessage, error)
	AppendFeedback(ctx context.Context, fb *models.Feedback) error
	DeleteFeedback(ctx context.Context, roomID, feedbackID string) error
	Feedback(ctx context.Context, roomID string) ([]*models.Feedback, error)
}

// UserDirectory resolves user ids to display info
type UserDirectory interface {
	Resolve(ctx context.Context, ids []string) (map[string]models.UserInfo, error)
}

// Compile-time checks
var (
	_ FileStore     = (*repository.FileRepositoryImpl)(nil)
	_ RoomStore     = (*repository.RoomRepositoryImpl)(nil)
	_ UserDirectory = (*repository.UserRepositoryImpl)(nil)
)
