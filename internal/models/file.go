package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type FileType string

const (
	FileTypeText   FileType = "text"
	FileTypePython FileType = "python"
	FileTypeJava   FileType = "java"
	FileTypeCpp    FileType = "cpp"
	FileTypeJS     FileType = "javascript"
)

// File is a shared source file inside a room.
// Content always holds the most recent accepted write; history lives in
// file_snapshots and per-user edit counts in file_contributions.
type File struct {
	ID        string    `json:"file_id" gorm:"type:varchar(27);primaryKey"`
	RoomID    string    `json:"room_id" gorm:"type:varchar(64);not null;index"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Type      FileType  `json:"type" gorm:"type:varchar(32);not null;default:'text'"`
	Content   string    `json:"content" gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ksuid.New().String()
	}
	return nil
}

type FileCreate struct {
	RoomID  string   `json:"room_id"`
	Name    string   `json:"name"`
	Type    FileType `json:"type"`
	Content string   `json:"content"`
}

// Contribution counts how many edits a user has made to a file.
// The (file_id, user_id) pair is unique, so increments can be a single upsert.
type Contribution struct {
	FileID    string    `json:"file_id" gorm:"type:varchar(27);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	EditCount int       `json:"edit_count" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Contribution) TableName() string {
	return "file_contributions"
}
