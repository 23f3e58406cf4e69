package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coderoom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotDecider inspects the latest snapshot (nil when history is empty) and
// whether the file has any contributions, and reports whether to append.
type SnapshotDecider func(last *models.Snapshot, hasContributions bool) bool

// FileRepositoryImpl stores files, their snapshot history and contribution counts
type FileRepositoryImpl struct {
	db *gorm.DB
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *gorm.DB) *FileRepositoryImpl {
	return &FileRepositoryImpl{db: db}
}

// Create inserts a new file; the KSUID comes from the BeforeCreate hook
func (r *FileRepositoryImpl) Create(ctx context.Context, in *models.FileCreate) (*models.File, error) {
	file := &models.File{
		RoomID:  in.RoomID,
		Name:    in.Name,
		Type:    in.Type,
		Content: in.Content,
	}
	if file.Type == "" {
		file.Type = models.FileTypeText
	}

	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return file, nil
}

// GetByID retrieves a file by its KSUID
func (r *FileRepositoryImpl) GetByID(ctx context.Context, id string) (*models.File, error) {
	var file models.File

	err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// ListByRoom returns the files of a room, oldest first
func (r *FileRepositoryImpl) ListByRoom(ctx context.Context, roomID string) ([]*models.File, error) {
	var files []*models.File

	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Delete removes a file together with its history and contributions
func (r *FileRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.File{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete file: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.Snapshot{}).Error; err != nil {
			return fmt.Errorf("failed to delete file history: %w", err)
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.Contribution{}).Error; err != nil {
			return fmt.Errorf("failed to delete file contributions: %w", err)
		}
		return nil
	})
}

// SetContent overwrites the file content in one UPDATE and reads the row back.
// The caller compares the returned content with what it wrote: another writer
// may have landed in between (last writer wins).
func (r *FileRepositoryImpl) SetContent(ctx context.Context, id, content string) (*models.File, error) {
	result := r.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update file content: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	return r.GetByID(ctx, id)
}

// AppendSnapshot appends {content, current contributions, now} to the file
// history if decide agrees. The file row is locked for the duration so two
// writers cannot both observe the same "latest" snapshot and both append.
func (r *FileRepositoryImpl) AppendSnapshot(ctx context.Context, fileID, content string, now time.Time, decide SnapshotDecider) (*models.Snapshot, bool, error) {
	var appended *models.Snapshot

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.File
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&file, "id = ?", fileID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock file: %w", err)
		}

		var last *models.Snapshot
		var latest models.Snapshot
		err = tx.Where("file_id = ?", fileID).Order("id DESC").Limit(1).Find(&latest).Error
		if err != nil {
			return fmt.Errorf("failed to load latest snapshot: %w", err)
		}
		if latest.ID != 0 {
			last = &latest
		}

		var contributions []*models.Contribution
		if err := tx.Where("file_id = ?", fileID).Find(&contributions).Error; err != nil {
			return fmt.Errorf("failed to load contributions: %w", err)
		}

		if !decide(last, len(contributions) > 0) {
			return nil
		}

		snap := &models.Snapshot{
			FileID:        fileID,
			Content:       content,
			Contributions: models.ContributionMapOf(contributions),
			CreatedAt:     now,
		}
		if err := tx.Create(snap).Error; err != nil {
			return fmt.Errorf("failed to append snapshot: %w", err)
		}
		appended = snap
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return appended, appended != nil, nil
}

// History returns all snapshots of a file in append order
func (r *FileRepositoryImpl) History(ctx context.Context, fileID string) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot

	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("id ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get file history: %w", err)
	}
	return snaps, nil
}

// IncrementContribution adds one edit for the user with a single upsert, so
// concurrent callers never lose an increment.
func (r *FileRepositoryImpl) IncrementContribution(ctx context.Context, fileID, userID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", fileID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check file: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}

	now := time.Now()
	row := &models.Contribution{
		FileID:    fileID,
		UserID:    userID,
		EditCount: 1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"edit_count": gorm.Expr("file_contributions.edit_count + ?", 1),
			"updated_at": now,
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to increment contribution: %w", err)
	}
	return nil
}

// Contributions returns the live contribution rows of a file
func (r *FileRepositoryImpl) Contributions(ctx context.Context, fileID string) ([]*models.Contribution, error) {
	var rows []*models.Contribution

	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get contributions: %w", err)
	}
	return rows, nil
}
