package models

import (
	"sort"
	"time"
)

// ContributionMap is user_id -> edit_count as captured when a snapshot is taken.
type ContributionMap map[string]int

// Snapshot is one durable history entry of a file.
// Rows are only ever appended; ID order is history order.
type Snapshot struct {
	ID            uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	FileID        string          `json:"file_id" gorm:"type:varchar(27);not null;index"`
	Content       string          `json:"content" gorm:"type:text;not null"`
	Contributions ContributionMap `json:"contributions" gorm:"type:text;serializer:json"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
}

func (Snapshot) TableName() string {
	return "file_snapshots"
}

// ContributionMapOf flattens contribution rows into the snapshot form.
func ContributionMapOf(rows []*Contribution) ContributionMap {
	m := make(ContributionMap, len(rows))
	for _, c := range rows {
		m[c.UserID] = c.EditCount
	}
	return m
}

// UserIDs returns the users in the map in a stable order.
func (m ContributionMap) UserIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
