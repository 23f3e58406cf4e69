package collaboration

import (
	"context"
	"fmt"
	"sort"

	"coderoom/internal/models"
)

// Ledger tracks per-user edit counts on files
type Ledger struct {
	files FileStore
	users UserDirectory
}

// NewLedger creates a contribution ledger
func NewLedger(files FileStore, users UserDirectory) *Ledger {
	return &Ledger{files: files, users: users}
}

// RecordEdit adds one edit for userID on fileID and returns the resolved,
// count-sorted contribution list. The increment is one store-level upsert.
func (l *Ledger) RecordEdit(ctx context.Context, fileID, userID string) ([]ContributionView, error) {
	if err := l.files.IncrementContribution(ctx, fileID, userID); err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}
	return l.Contributions(ctx, fileID)
}

// Contributions returns the live contributions of a file, resolved and sorted
func (l *Ledger) Contributions(ctx context.Context, fileID string) ([]ContributionView, error) {
	rows, err := l.files.Contributions(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load contributions: %w", err)
	}

	counts := models.ContributionMapOf(rows)
	names, err := l.users.Resolve(ctx, counts.UserIDs())
	if err != nil {
		return nil, fmt.Errorf("resolve contributors: %w", err)
	}
	return contributionViews(counts, names), nil
}

// contributionViews sorts by descending edit count, ties by user id
func contributionViews(counts models.ContributionMap, names map[string]models.UserInfo) []ContributionView {
	views := make([]ContributionView, 0, len(counts))
	for _, id := range counts.UserIDs() {
		info, ok := names[id]
		if !ok {
			info = models.UserInfo{ID: id, Name: id}
		}
		views = append(views, ContributionView{User: info, EditCount: counts[id]})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].EditCount > views[j].EditCount
	})
	return views
}
