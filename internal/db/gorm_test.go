package db_test

import (
	"testing"

	"coderoom/internal/db/dbtest"
	"coderoom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCreatesTables(t *testing.T) {
	gdb := dbtest.New(t)

	for _, model := range []any{
		&models.File{},
		&models.Snapshot{},
		&models.Contribution{},
		&models.RoomDocument{},
		&models.ChatMessage{},
		&models.Feedback{},
		&models.User{},
	} {
		assert.True(t, gdb.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestFileGetsKSUID(t *testing.T) {
	gdb := dbtest.New(t)

	file := &models.File{RoomID: "R1", Name: "main.py", Type: models.FileTypePython}
	require.NoError(t, gdb.Create(file).Error)

	assert.Len(t, file.ID, 27)
	assert.Equal(t, "", file.Content)
}

func TestSnapshotContributionsRoundTrip(t *testing.T) {
	gdb := dbtest.New(t)

	snap := &models.Snapshot{FileID: "f", Content: "x", Contributions: models.ContributionMap{"u1": 3}}
	require.NoError(t, gdb.Create(snap).Error)

	var loaded models.Snapshot
	require.NoError(t, gdb.First(&loaded, snap.ID).Error)
	assert.Equal(t, 3, loaded.Contributions["u1"])
}
