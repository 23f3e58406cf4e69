package collaboration

import (
	"time"

	"coderoom/internal/models"
	"coderoom/internal/repository"
)

// DefaultSnapshotDebounce is the window in which writes coalesce into one snapshot
const DefaultSnapshotDebounce = 5 * time.Minute

// SnapshotPolicy decides whether a history-eligible write becomes a snapshot.
//
//	no_record       history is empty and the file has at least one contribution
//	same_record     the latest snapshot holds exactly the new content
//	recent_snapshot the latest snapshot is younger than Debounce
//
// A snapshot is appended iff no_record || (!same_record && !recent_snapshot).
// With an empty history same_record and recent_snapshot are both false, so the
// first history-eligible write always snapshots.
type SnapshotPolicy struct {
	Debounce time.Duration
}

// NewSnapshotPolicy returns a policy, falling back to the default window
func NewSnapshotPolicy(debounce time.Duration) SnapshotPolicy {
	if debounce <= 0 {
		debounce = DefaultSnapshotDebounce
	}
	return SnapshotPolicy{Debounce: debounce}
}

// ShouldSnapshot is the pure predicate; last is nil when history is empty
func (p SnapshotPolicy) ShouldSnapshot(last *models.Snapshot, hasContributions bool, content string, now time.Time) bool {
	noRecord := last == nil && hasContributions
	sameRecord := last != nil && last.Content == content
	recentSnapshot := last != nil && now.Sub(last.CreatedAt) < p.Debounce

	return noRecord || (!sameRecord && !recentSnapshot)
}

// Decider binds the predicate to one write so the store can run it under its row lock
func (p SnapshotPolicy) Decider(content string, now time.Time) repository.SnapshotDecider {
	return func(last *models.Snapshot, hasContributions bool) bool {
		return p.ShouldSnapshot(last, hasContributions, content, now)
	}
}
