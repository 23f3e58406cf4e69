package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// RoomDocument holds the persisted, non-file state of a room.
// RecordedMembers is the last roster seen for the room and is refreshed
// whenever the authoritative member list diverges from it.
type RoomDocument struct {
	RoomID          string    `json:"room_id" gorm:"type:varchar(64);primaryKey"`
	Notes           string    `json:"notes" gorm:"type:text;not null;default:''"`
	RecordedMembers []string  `json:"recorded_members" gorm:"type:text;serializer:json"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (RoomDocument) TableName() string {
	return "room_documents"
}

type ChatMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID    string    `json:"room_id" gorm:"type:varchar(64);not null;index"`
	SenderUID string    `json:"sender_uid" gorm:"type:varchar(64);not null"`
	ChatBody  string    `json:"chat_body" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "room_messages"
}

type Feedback struct {
	ID           string    `json:"feedback_id" gorm:"type:varchar(27);primaryKey"`
	RoomID       string    `json:"room_id" gorm:"type:varchar(64);not null;index"`
	ProfessorUID string    `json:"professor_uid" gorm:"type:varchar(64);not null"`
	FeedbackBody string    `json:"feedback_body" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Feedback) TableName() string {
	return "room_feedback"
}

// BeforeCreate generates KSUID
func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ksuid.New().String()
	}
	return nil
}
