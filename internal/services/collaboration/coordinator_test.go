package collaboration

import (
	"context"
	"encoding/json"
	"testing"

	"coderoom/internal/models"
	"coderoom/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_RoomScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c1, c2 := h.connect("c1"), h.connect("c2")

	h.send(t, c1, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1", Role: presence.RoleStudent})
	var got RoomUsersUpdated
	c1.last(t, EventRoomUsersUpdated, &got)
	require.Len(t, got.Users, 1)
	assert.Equal(t, presence.RoomUser{UserID: "U1", Cursor: presence.Palette[0]}, got.Users[0])

	h.send(t, c2, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U2", Role: presence.RoleStudent})
	c1.last(t, EventRoomUsersUpdated, &got)
	require.Len(t, got.Users, 2)
	assert.Equal(t, presence.Palette[1], got.Users[1].Cursor)
	assert.NotEqual(t, got.Users[0].Cursor.Color, got.Users[1].Cursor.Color)

	actual, err := h.registry.RoomUsers(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, actual, got.Users)

	h.coord.Disconnect(ctx, "c1")
	c2.last(t, EventRoomUsersUpdated, &got)
	assert.Equal(t, []presence.RoomUser{{UserID: "U2", Cursor: presence.Palette[1]}}, got.Users)

	h.coord.Disconnect(ctx, "c2")
	stats, err := h.registry.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Rooms)
	assert.Equal(t, 0, h.coord.Connections())
}

func TestCoordinator_DisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c1, c2 := h.connect("c1"), h.connect("c2")

	h.send(t, c1, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1"})
	h.send(t, c2, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U2"})
	c2.reset()

	h.coord.Disconnect(ctx, "c1")
	h.coord.Disconnect(ctx, "c1")
	h.send(t, c1, EventDisconnecting, map[string]string{})

	assert.Equal(t, 1, c2.count(EventRoomUsersUpdated))
}

func TestCoordinator_JoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c1, watcher := h.connect("c1"), h.connect("w")

	h.send(t, watcher, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "W"})
	h.send(t, c1, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1"})
	h.send(t, c1, EventJoinRoom, JoinRoomPayload{RoomID: "R2", UserID: "U1"})

	var got RoomUsersUpdated
	watcher.last(t, EventRoomUsersUpdated, &got)
	assert.Equal(t, "R1", got.RoomID)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "W", got.Users[0].UserID)

	r2, err := h.registry.RoomUsers(ctx, "R2")
	require.NoError(t, err)
	require.Len(t, r2, 1)
	assert.Equal(t, "U1", r2[0].UserID)
}

func TestCoordinator_SingleEditorPerConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c1, watcher := h.connect("c1"), h.connect("w")

	h.send(t, watcher, EventJoinEditor, EditorPayload{FileID: "F1", UserID: "W"})
	h.send(t, c1, EventJoinEditor, EditorPayload{FileID: "F1", UserID: "U1"})

	var got EditorUsersUpdated
	watcher.last(t, EventEditorUsersUpdated, &got)
	assert.Equal(t, []presence.EditorUser{{UserID: "W"}, {UserID: "U1"}}, got.Users)

	h.send(t, c1, EventJoinEditor, EditorPayload{FileID: "F2", UserID: "U1"})

	watcher.last(t, EventEditorUsersUpdated, &got)
	assert.Equal(t, "F1", got.FileID)
	assert.Equal(t, []presence.EditorUser{{UserID: "W"}}, got.Users)

	f2, err := h.registry.EditorUsers(ctx, "F2")
	require.NoError(t, err)
	assert.Equal(t, []presence.EditorUser{{UserID: "U1"}}, f2)

	c1.last(t, EventEditorUsersUpdated, &got)
	assert.Equal(t, "F2", got.FileID)

	h.send(t, c1, EventLeaveEditor, EditorPayload{FileID: "F2", UserID: "U1"})
	f2, err = h.registry.EditorUsers(ctx, "F2")
	require.NoError(t, err)
	assert.Empty(t, f2)
}

func TestCoordinator_UpdateCodeAcksAndBroadcastsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.newFile(t, "R1", "")
	require.NoError(t, h.files.IncrementContribution(ctx, file.ID, "U1"))

	writer, reader := h.connect("writer"), h.connect("reader")
	h.send(t, writer, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, reader, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U2"})

	h.send(t, writer, EventUpdateCode, UpdateCodePayload{FileID: file.ID, UserID: "U1", Code: "hello", StoreHistory: true})

	var ack UpdateResult
	writer.last(t, EventUpdateResult, &ack)
	assert.True(t, ack.Success)
	assert.Equal(t, 0, reader.count(EventUpdateResult))

	var view HistoryView
	reader.last(t, EventReupdateHistory, &view)
	require.Len(t, view.History, 1)
	assert.Equal(t, "hello", view.History[0].Content)
	assert.Equal(t, 1, writer.count(EventReupdateHistory))

	h.send(t, writer, EventUpdateCode, UpdateCodePayload{FileID: file.ID, UserID: "U1", Code: "hello world", StoreHistory: true})
	assert.Equal(t, 2, writer.count(EventUpdateResult))
	assert.Equal(t, 1, reader.count(EventReupdateHistory))
}

func TestCoordinator_UpdateCodeFailureGoesToSenderOnly(t *testing.T) {
	h := newHarness(t)
	writer, other := h.connect("writer"), h.connect("other")
	h.send(t, writer, EventJoinEditor, EditorPayload{FileID: "missing", UserID: "U1"})
	h.send(t, other, EventJoinEditor, EditorPayload{FileID: "missing", UserID: "U2"})

	h.send(t, writer, EventUpdateCode, UpdateCodePayload{FileID: "missing", UserID: "U1", Code: "x", StoreHistory: true})

	var ack UpdateResult
	writer.last(t, EventUpdateResult, &ack)
	assert.False(t, ack.Success)
	assert.Equal(t, CodeNotFound, ack.Code)
	assert.Equal(t, 0, other.count(EventUpdateResult))
	assert.Equal(t, 0, other.count(EventReupdateHistory))
}

func TestCoordinator_UpdateCodeAcksWhenSnapshotFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.newFile(t, "R1", "")
	h.coord.engine = NewSyncEngine(brokenHistoryStore{h.files}, h.users, NewSnapshotPolicy(DefaultSnapshotDebounce))

	writer, reader := h.connect("writer"), h.connect("reader")
	h.send(t, writer, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, reader, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U2"})

	h.send(t, writer, EventUpdateCode, UpdateCodePayload{FileID: file.ID, UserID: "U1", Code: "persisted", StoreHistory: true})

	var ack UpdateResult
	writer.last(t, EventUpdateResult, &ack)
	assert.True(t, ack.Success)
	assert.Empty(t, ack.Code)
	assert.Equal(t, 0, reader.count(EventReupdateHistory))

	got, err := h.files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Content)
}

func TestCoordinator_GetHistoryAndEditCount(t *testing.T) {
	h := newHarness(t)
	file := h.newFile(t, "R1", "")
	c1, c2 := h.connect("c1"), h.connect("c2")
	h.send(t, c1, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, c2, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U2"})

	h.send(t, c1, EventAddEditCount, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, c1, EventAddEditCount, EditorPayload{FileID: file.ID, UserID: "U1"})

	var counts ContributionsResult
	c2.last(t, EventAddEditCountResult, &counts)
	require.Len(t, counts.Contributions, 1)
	assert.Equal(t, 2, counts.Contributions[0].EditCount)

	h.send(t, c2, EventGetHistory, FilePayload{FileID: file.ID})
	var view HistoryView
	c2.last(t, EventGetHistoryResult, &view)
	assert.Equal(t, file.ID, view.FileID)
	assert.Empty(t, view.History)
	require.Len(t, view.Contributions, 1)
	assert.Equal(t, 0, c1.count(EventGetHistoryResult))
}

func TestCoordinator_FilesLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, peer := h.connect("owner"), h.connect("peer")
	h.send(t, owner, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1"})
	h.send(t, peer, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U2"})

	h.send(t, owner, EventAddFile, AddFilePayload{RoomID: "R1", Name: "main.py", Type: models.FileTypePython, UserID: "U1"})
	var file models.File
	peer.last(t, EventFileAdded, &file)
	assert.Equal(t, "main.py", file.Name)
	require.NotEmpty(t, file.ID)

	// refused while someone else has it open
	h.send(t, peer, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U2"})
	h.send(t, owner, EventDeleteFile, EditorPayload{FileID: file.ID, UserID: "U1"})

	var res DeleteFileResult
	owner.last(t, EventDeleteFileResult, &res)
	assert.False(t, res.Success)
	assert.Equal(t, CodeConcurrencyDenied, res.Code)
	assert.Equal(t, 0, peer.count(EventFileDeleted))
	_, err := h.files.GetByID(ctx, file.ID)
	require.NoError(t, err)

	// allowed once only the requester remains
	h.send(t, peer, EventLeaveEditor, EditorPayload{FileID: file.ID, UserID: "U2"})
	h.send(t, owner, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, owner, EventDeleteFile, EditorPayload{FileID: file.ID, UserID: "U1"})

	owner.last(t, EventDeleteFileResult, &res)
	assert.True(t, res.Success)
	var deleted FileDeleted
	peer.last(t, EventFileDeleted, &deleted)
	assert.Equal(t, file.ID, deleted.FileID)

	editors, err := h.registry.EditorUsers(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, editors)
}

func TestCoordinator_DeleteFileEvictsRemainingEditors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	file := h.newFile(t, "R1", "")

	// two tabs of the same user, so the delete is allowed
	tab1, tab2 := h.connect("tab1"), h.connect("tab2")
	h.send(t, tab1, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1"})
	h.send(t, tab1, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})
	h.send(t, tab2, EventJoinEditor, EditorPayload{FileID: file.ID, UserID: "U1"})

	h.send(t, tab1, EventDeleteFile, EditorPayload{FileID: file.ID, UserID: "U1"})

	var res DeleteFileResult
	tab1.last(t, EventDeleteFileResult, &res)
	require.True(t, res.Success)

	editors, err := h.registry.EditorUsers(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, editors)
	assert.Equal(t, 0, h.gateway.Subscribers(editorChannel(file.ID)))

	h.coord.mu.Lock()
	assert.Empty(t, h.coord.conns["tab1"].fileID)
	assert.Empty(t, h.coord.conns["tab2"].fileID)
	h.coord.mu.Unlock()
}

func TestCoordinator_NotepadChatFeedback(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.send(t, a, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "U1"})
	h.send(t, b, EventJoinRoom, JoinRoomPayload{RoomID: "R1", UserID: "P1", Role: presence.RoleProfessor})

	h.send(t, a, EventSaveNotepad, SaveNotepadPayload{RoomID: "R1", Content: "todo: loops"})
	assert.Equal(t, 1, a.count(EventSaveNotepadResult))
	assert.Equal(t, 0, a.count(EventNotepadUpdated))
	var notes NotepadResult
	b.last(t, EventNotepadUpdated, &notes)
	assert.Equal(t, "todo: loops", notes.Content)

	h.send(t, b, EventLoadNotepad, RoomPayload{RoomID: "R1"})
	b.last(t, EventLoadNotepadResult, &notes)
	assert.Equal(t, "todo: loops", notes.Content)

	h.send(t, a, EventSendMessage, SendMessagePayload{RoomID: "R1", SenderUID: "U1", ChatBody: "hi"})
	assert.Equal(t, 1, a.count(EventMessageReceived))
	assert.Equal(t, 1, b.count(EventMessageReceived))

	h.send(t, a, EventLoadMessages, RoomPayload{RoomID: "R1"})
	var msgs MessagesResult
	a.last(t, EventLoadMessagesResult, &msgs)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "hi", msgs.Messages[0].ChatBody)

	h.send(t, b, EventSubmitFeedback, SubmitFeedbackPayload{RoomID: "R1", ProfessorUID: "P1", FeedbackBody: "good"})
	var fb FeedbackResult
	a.last(t, EventFeedbackUpdated, &fb)
	require.Len(t, fb.Feedback, 1)

	h.send(t, b, EventDeleteFeedback, DeleteFeedbackPayload{RoomID: "R1", FeedbackID: fb.Feedback[0].ID})
	a.last(t, EventFeedbackUpdated, &fb)
	assert.Empty(t, fb.Feedback)

	h.send(t, a, EventLoadFeedback, RoomPayload{RoomID: "R1"})
	a.last(t, EventLoadFeedbackResult, &fb)
	assert.Empty(t, fb.Feedback)
}

func TestCoordinator_BadInput(t *testing.T) {
	h := newHarness(t)
	c := h.connect("c")

	h.coord.HandleMessage(context.Background(), "c", []byte("{not json"))
	var e ErrorPayload
	c.last(t, EventError, &e)
	assert.Equal(t, CodeInvalidPayload, e.Code)

	h.send(t, c, "dance", map[string]string{})
	c.last(t, EventError, &e)
	assert.Equal(t, CodeUnknownEvent, e.Code)
	assert.Equal(t, "dance", e.Event)

	h.send(t, c, EventJoinRoom, map[string]string{"room_id": "R1"})
	c.last(t, EventError, &e)
	assert.Equal(t, CodeInvalidPayload, e.Code)
	assert.Equal(t, EventJoinRoom, e.Event)

	h.send(t, c, EventDeleteFeedback, DeleteFeedbackPayload{RoomID: "R1", FeedbackID: "nope"})
	c.last(t, EventError, &e)
	assert.Equal(t, CodeNotFound, e.Code)
}

func TestCoordinator_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	c := h.connect("c")
	h.coord.handlers["boom"] = func(context.Context, string, json.RawMessage) error {
		panic("boom")
	}

	assert.NotPanics(t, func() {
		h.send(t, c, "boom", map[string]string{})
	})
	var e ErrorPayload
	c.last(t, EventError, &e)
	assert.Equal(t, CodeInternal, e.Code)
}
