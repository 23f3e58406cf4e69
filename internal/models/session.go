package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents an active WebSocket connection
type Session struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// User is a directory entry used to put names on contributions.
// The user service owns it; this module only reads it.
type User struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	FirstName string    `json:"first_name" gorm:"type:text"`
	LastName  string    `json:"last_name" gorm:"type:text"`
	Email     string    `json:"email" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInfo is the display form of a user attached to contributions
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName falls back to the id when no name is on record.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.ID
}

func NewSession(remoteAddr string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
}
