package collaboration

import (
	"context"
	"fmt"
	"time"

	"coderoom/internal/logging"
	"coderoom/internal/middleware"
	"coderoom/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// UpdateOutcome is the result of an accepted write
type UpdateOutcome struct {
	File        *models.File
	Snapshot    *models.Snapshot
	Snapshotted bool
}

// SyncEngine applies content writes to files and maintains their history.
// It keeps no file state between calls; every call reads the store.
type SyncEngine struct {
	files  FileStore
	users  UserDirectory
	policy SnapshotPolicy
	now    func() time.Time
	log    *logrus.Entry
}

// NewSyncEngine creates a document sync engine
func NewSyncEngine(files FileStore, users UserDirectory, policy SnapshotPolicy) *SyncEngine {
	return &SyncEngine{
		files:  files,
		users:  users,
		policy: policy,
		now:    time.Now,
		log:    logging.Component("sync"),
	}
}

// UpdateCode overwrites the file content (last writer wins) and, when
// storeHistory is set and the write round-tripped, runs the snapshot policy.
// A write that does not read back as content returns ErrWriteRejected and
// never touches history. A snapshot failure is logged and the write still
// succeeds.
func (e *SyncEngine) UpdateCode(ctx context.Context, fileID, userID, content string, storeHistory bool) (*UpdateOutcome, error) {
	ctx, span := middleware.StartSpan(ctx, "SyncEngine.UpdateCode",
		attribute.String("file.id", fileID),
		attribute.String("user.id", userID),
		attribute.Bool("store_history", storeHistory),
	)
	defer span.End()

	file, err := e.files.SetContent(ctx, fileID, content)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("update code: %w", err)
	}
	if file.Content != content {
		middleware.AddSpanError(ctx, ErrWriteRejected)
		return nil, fmt.Errorf("update code %s: %w", fileID, ErrWriteRejected)
	}

	out := &UpdateOutcome{File: file}
	if !storeHistory {
		return out, nil
	}

	// the content is already stored, so a failed snapshot does not fail the write
	now := e.now()
	snap, ok, err := e.files.AppendSnapshot(ctx, fileID, content, now, e.policy.Decider(content, now))
	if err != nil {
		middleware.AddSpanError(ctx, err)
		e.log.WithError(err).WithField("file_id", fileID).Warn("snapshot append failed")
		return out, nil
	}
	out.Snapshot, out.Snapshotted = snap, ok
	span.SetAttributes(attribute.Bool("snapshot.appended", ok))
	if ok {
		middleware.AddSpanEvent(ctx, "snapshot.appended", attribute.Int64("snapshot.id", int64(snap.ID)))
	}

	return out, nil
}

// GetHistory returns every snapshot of the file plus its live contributions,
// with users resolved for display.
func (e *SyncEngine) GetHistory(ctx context.Context, fileID string) (*HistoryView, error) {
	if _, err := e.files.GetByID(ctx, fileID); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	snaps, err := e.files.History(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	rows, err := e.files.Contributions(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	live := models.ContributionMapOf(rows)

	ids := make(map[string]struct{})
	for _, id := range live.UserIDs() {
		ids[id] = struct{}{}
	}
	for _, s := range snaps {
		for id := range s.Contributions {
			ids[id] = struct{}{}
		}
	}
	all := make([]string, 0, len(ids))
	for id := range ids {
		all = append(all, id)
	}

	names, err := e.users.Resolve(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("resolve contributors: %w", err)
	}

	view := &HistoryView{
		FileID:        fileID,
		History:       make([]SnapshotView, 0, len(snaps)),
		Contributions: contributionViews(live, names),
	}
	for _, s := range snaps {
		view.History = append(view.History, SnapshotView{
			ID:            s.ID,
			Content:       s.Content,
			CreatedAt:     s.CreatedAt,
			Contributions: contributionViews(s.Contributions, names),
		})
	}
	return view, nil
}
