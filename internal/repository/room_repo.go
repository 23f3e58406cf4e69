package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"coderoom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomRepositoryImpl handles the persisted room document: notes, chat,
// feedback and the recorded member roster
type RoomRepositoryImpl struct {
	db *gorm.DB
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) *RoomRepositoryImpl {
	return &RoomRepositoryImpl{db: db}
}

// SaveNotes replaces the room notepad in a single upsert
func (r *RoomRepositoryImpl) SaveNotes(ctx context.Context, roomID, notes string) error {
	now := time.Now()
	doc := &models.RoomDocument{RoomID: roomID, Notes: notes, CreatedAt: now, UpdatedAt: now}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"notes": notes, "updated_at": now}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}

// LoadNotes returns the notepad text; a room without a document has no notes
func (r *RoomRepositoryImpl) LoadNotes(ctx context.Context, roomID string) (string, error) {
	var doc models.RoomDocument

	err := r.db.WithContext(ctx).First(&doc, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load notes: %w", err)
	}
	return doc.Notes, nil
}

// AppendMessage adds a chat entry; entries are never edited afterwards
func (r *RoomRepositoryImpl) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// Messages returns the chat of a room in send order
func (r *RoomRepositoryImpl) Messages(ctx context.Context, roomID string) ([]*models.ChatMessage, error) {
	var msgs []*models.ChatMessage

	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}
	return msgs, nil
}

// AppendFeedback stores a professor feedback entry
func (r *RoomRepositoryImpl) AppendFeedback(ctx context.Context, fb *models.Feedback) error {
	if err := r.db.WithContext(ctx).Create(fb).Error; err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

// DeleteFeedback removes one feedback entry of a room
func (r *RoomRepositoryImpl) DeleteFeedback(ctx context.Context, roomID, feedbackID string) error {
	result := r.db.WithContext(ctx).Delete(&models.Feedback{}, "id = ? AND room_id = ?", feedbackID, roomID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete feedback: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("feedback %s: %w", feedbackID, ErrNotFound)
	}
	return nil
}

// Feedback returns the feedback of a room, oldest first
func (r *RoomRepositoryImpl) Feedback(ctx context.Context, roomID string) ([]*models.Feedback, error) {
	var items []*models.Feedback

	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC, id ASC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	return items, nil
}

// RefreshRecordedMembers stores the authoritative roster when it differs from
// the recorded one and reports whether anything changed
func (r *RoomRepositoryImpl) RefreshRecordedMembers(ctx context.Context, roomID string, members []string) (bool, error) {
	changed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc := models.RoomDocument{RoomID: roomID}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID).
			FirstOrCreate(&doc).Error; err != nil {
			return fmt.Errorf("failed to load room document: %w", err)
		}

		if sameMembers(doc.RecordedMembers, members) {
			return nil
		}

		sorted := append([]string(nil), members...)
		sort.Strings(sorted)
		doc.RecordedMembers = sorted
		if err := tx.Model(&doc).Select("recorded_members", "updated_at").Updates(&doc).Error; err != nil {
			return fmt.Errorf("failed to update recorded members: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, m := range a {
		seen[m]++
	}
	for _, m := range b {
		if seen[m] == 0 {
			return false
		}
		seen[m]--
	}
	return true
}
