package repository

import (
	"context"
	"fmt"
	"time"

	"coderoom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepositoryImpl is a read-mostly view of the user directory
type UserRepositoryImpl struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// Upsert inserts or refreshes a directory entry
func (r *UserRepositoryImpl) Upsert(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "email", "updated_at"}),
	}).Create(user).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// Resolve maps every requested id to display info. Ids missing from the
// directory resolve to themselves rather than failing the whole lookup.
func (r *UserRepositoryImpl) Resolve(ctx context.Context, ids []string) (map[string]models.UserInfo, error) {
	out := make(map[string]models.UserInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}

	for _, u := range users {
		out[u.ID] = models.UserInfo{ID: u.ID, Name: u.DisplayName()}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = models.UserInfo{ID: id, Name: id}
		}
	}
	return out, nil
}
