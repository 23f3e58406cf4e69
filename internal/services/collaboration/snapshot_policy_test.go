package collaboration

import (
	"testing"
	"time"

	"coderoom/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPolicy_ShouldSnapshot(t *testing.T) {
	policy := NewSnapshotPolicy(5 * time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := func(content string, age time.Duration) *models.Snapshot {
		return &models.Snapshot{Content: content, CreatedAt: now.Add(-age)}
	}

	tests := []struct {
		name             string
		last             *models.Snapshot
		hasContributions bool
		content          string
		want             bool
	}{
		{"empty history with contributions", nil, true, "", true},
		{"empty history without contributions", nil, false, "x", true},
		{"same content recent", snap("x", time.Second), true, "x", false},
		{"new content recent", snap("x", time.Second), true, "y", false},
		{"new content after window", snap("x", 6*time.Minute), true, "y", true},
		{"same content after window", snap("x", 6*time.Minute), true, "x", false},
		{"new content at window edge", snap("x", 5*time.Minute), false, "y", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.ShouldSnapshot(tt.last, tt.hasContributions, tt.content, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSnapshotPolicy_DefaultsWindow(t *testing.T) {
	assert.Equal(t, DefaultSnapshotDebounce, NewSnapshotPolicy(0).Debounce)
	assert.Equal(t, time.Minute, NewSnapshotPolicy(time.Minute).Debounce)
}

func TestSnapshotPolicy_DeciderBindsWrite(t *testing.T) {
	now := time.Now()
	decide := NewSnapshotPolicy(time.Minute).Decider("y", now)

	assert.True(t, decide(nil, false))
	assert.False(t, decide(&models.Snapshot{Content: "y", CreatedAt: now.Add(-time.Hour)}, true))
}
