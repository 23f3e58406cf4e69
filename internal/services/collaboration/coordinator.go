package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"coderoom/internal/logging"
	"coderoom/internal/middleware"
	"coderoom/internal/models"
	"coderoom/internal/presence"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

/*
SESSION COORDINATOR

Per connection:

	Disconnected -> Connected -> {InRoom} x {InEditor}

A connection is in at most one room and at most one editor. Joining another
room or editor first leaves the current one and broadcasts that membership.
Disconnect leaves everything and is idempotent.

c.mu serialises membership transitions: a registry mutation and the
membership emit that reports it happen under the same lock, so the emitted
list is always the registry state at that point. The lock is never held
across document store calls.
*/

type handlerFunc func(ctx context.Context, connID string, data json.RawMessage) error

type connState struct {
	roomID       string
	roomUserID   string
	fileID       string
	editorUserID string
}

// Coordinator binds live connections to rooms and editors and routes their events
type Coordinator struct {
	registry presence.Registry
	gateway  *Gateway
	engine   *SyncEngine
	ledger   *Ledger
	files    FileStore
	rooms    RoomStore

	mu    sync.Mutex
	conns map[string]*connState

	handlers map[string]handlerFunc
	log      *logrus.Entry
}

// NewCoordinator wires the collaboration components together
func NewCoordinator(registry presence.Registry, gateway *Gateway, engine *SyncEngine, ledger *Ledger, files FileStore, rooms RoomStore) *Coordinator {
	c := &Coordinator{
		registry: registry,
		gateway:  gateway,
		engine:   engine,
		ledger:   ledger,
		files:    files,
		rooms:    rooms,
		conns:    make(map[string]*connState),
		log:      logging.Component("coordinator"),
	}

	c.handlers = map[string]handlerFunc{
		EventJoinRoom:       c.handleJoinRoom,
		EventJoinEditor:     c.handleJoinEditor,
		EventLeaveEditor:    c.handleLeaveEditor,
		EventUpdateCode:     c.handleUpdateCode,
		EventGetHistory:     c.handleGetHistory,
		EventAddEditCount:   c.handleAddEditCount,
		EventAddFile:        c.handleAddFile,
		EventDeleteFile:     c.handleDeleteFile,
		EventSaveNotepad:    c.handleSaveNotepad,
		EventLoadNotepad:    c.handleLoadNotepad,
		EventSendMessage:    c.handleSendMessage,
		EventLoadMessages:   c.handleLoadMessages,
		EventSubmitFeedback: c.handleSubmitFeedback,
		EventDeleteFeedback: c.handleDeleteFeedback,
		EventLoadFeedback:   c.handleLoadFeedback,
		EventDisconnecting: func(ctx context.Context, connID string, _ json.RawMessage) error {
			c.Disconnect(ctx, connID)
			return nil
		},
	}

	return c
}

// Connect registers a new connection
func (c *Coordinator) Connect(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gateway.Attach(sub)
	c.conns[sub.ID()] = &connState{}
	c.log.WithField("conn_id", sub.ID()).Debug("connection registered")
}

// Connections counts live connections on this instance
func (c *Coordinator) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Disconnect leaves every room and editor the connection belongs to and
// broadcasts the new memberships. Calling it again is a no-op.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return
	}
	delete(c.conns, connID)

	if st.fileID != "" {
		c.leaveEditorLocked(ctx, connID, st)
	}
	if st.roomID != "" {
		c.leaveRoomLocked(ctx, connID, st)
	}
	c.gateway.Detach(connID)

	c.log.WithField("conn_id", connID).Debug("connection disconnected")
}

// HandleMessage decodes one inbound frame and dispatches it
func (c *Coordinator) HandleMessage(ctx context.Context, connID string, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError(connID, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		return
	}
	c.Dispatch(ctx, connID, frame.Event, frame.Data)
}

// Dispatch runs the handler for one event with its own span and panic
// recovery. Failures go back to the sender only.
func (c *Coordinator) Dispatch(ctx context.Context, connID, event string, data json.RawMessage) {
	ctx, span := middleware.StartSpan(ctx, "Coordinator."+event,
		attribute.String("conn.id", connID),
		attribute.String("event", event),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			middleware.RecordPanic(ctx, r)
			c.sendError(connID, event, errors.New("internal error"))
		}
	}()

	handler, ok := c.handlers[event]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, event)
		middleware.AddSpanError(ctx, err)
		c.sendError(connID, event, err)
		return
	}

	if err := handler(ctx, connID, data); err != nil {
		middleware.AddSpanError(ctx, err)
		c.log.WithError(err).WithFields(logrus.Fields{"conn_id": connID, "event": event}).Warn("event failed")
		c.sendError(connID, event, err)
	}
}

func (c *Coordinator) sendError(connID, event string, err error) {
	c.gateway.ToConn(connID, EventError, ErrorPayload{
		Event:   event,
		Code:    ErrorCode(err),
		Message: err.Error(),
	})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// need fails with ErrInvalidPayload when any required field is empty
func need(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, name)
		}
	}
	return nil
}

// Presence

func (c *Coordinator) handleJoinRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var p JoinRoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID, "user_id": p.UserID}); err != nil {
		return err
	}
	if p.Role == "" {
		p.Role = presence.RoleStudent
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return nil
	}
	if st.roomID != "" && (st.roomID != p.RoomID || st.roomUserID != p.UserID) {
		c.leaveRoomLocked(ctx, connID, st)
	}

	st.roomID, st.roomUserID = p.RoomID, p.UserID
	c.gateway.Subscribe(roomChannel(p.RoomID), connID)

	users, err := c.registry.JoinRoom(ctx, p.RoomID, p.UserID, p.Role)
	if err != nil {
		c.presenceFailed(err, connID, "join room", p.RoomID)
		return nil
	}
	c.gateway.ToAll(ctx, roomChannel(p.RoomID), EventRoomUsersUpdated, RoomUsersUpdated{RoomID: p.RoomID, Users: users})
	return nil
}

func (c *Coordinator) handleJoinEditor(ctx context.Context, connID string, data json.RawMessage) error {
	var p EditorPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"file_id": p.FileID, "user_id": p.UserID}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return nil
	}
	if st.fileID != "" && (st.fileID != p.FileID || st.editorUserID != p.UserID) {
		c.leaveEditorLocked(ctx, connID, st)
	}

	st.fileID, st.editorUserID = p.FileID, p.UserID
	c.gateway.Subscribe(editorChannel(p.FileID), connID)

	users, err := c.registry.JoinEditor(ctx, p.FileID, p.UserID)
	if err != nil {
		c.presenceFailed(err, connID, "join editor", p.FileID)
		return nil
	}
	c.gateway.ToAll(ctx, editorChannel(p.FileID), EventEditorUsersUpdated, EditorUsersUpdated{FileID: p.FileID, Users: users})
	return nil
}

func (c *Coordinator) handleLeaveEditor(ctx context.Context, connID string, data json.RawMessage) error {
	var p EditorPayload
	if len(data) > 0 {
		if err := decode(data, &p); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok || st.fileID == "" {
		return nil
	}
	if p.FileID != "" && p.FileID != st.fileID {
		return nil
	}
	c.leaveEditorLocked(ctx, connID, st)
	return nil
}

// leaveRoomLocked requires c.mu
func (c *Coordinator) leaveRoomLocked(ctx context.Context, connID string, st *connState) {
	roomID, userID := st.roomID, st.roomUserID
	st.roomID, st.roomUserID = "", ""
	c.gateway.Unsubscribe(roomChannel(roomID), connID)

	users, err := c.registry.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		c.presenceFailed(err, connID, "leave room", roomID)
		return
	}
	c.gateway.ToAll(ctx, roomChannel(roomID), EventRoomUsersUpdated, RoomUsersUpdated{RoomID: roomID, Users: users})
}

// leaveEditorLocked requires c.mu
func (c *Coordinator) leaveEditorLocked(ctx context.Context, connID string, st *connState) {
	fileID, userID := st.fileID, st.editorUserID
	st.fileID, st.editorUserID = "", ""
	c.gateway.Unsubscribe(editorChannel(fileID), connID)

	users, err := c.registry.LeaveEditor(ctx, fileID, userID)
	if err != nil {
		c.presenceFailed(err, connID, "leave editor", fileID)
		return
	}
	c.gateway.ToAll(ctx, editorChannel(fileID), EventEditorUsersUpdated, EditorUsersUpdated{FileID: fileID, Users: users})
}

func (c *Coordinator) presenceFailed(err error, connID, op, target string) {
	c.log.WithError(err).WithFields(logrus.Fields{
		"conn_id": connID,
		"op":      op,
		"target":  target,
	}).Warn("presence update failed")
}

// Documents

func (c *Coordinator) handleUpdateCode(ctx context.Context, connID string, data json.RawMessage) error {
	var p UpdateCodePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"file_id": p.FileID, "user_id": p.UserID}); err != nil {
		return err
	}

	out, err := c.engine.UpdateCode(ctx, p.FileID, p.UserID, p.Code, p.StoreHistory)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		c.log.WithError(err).WithFields(logrus.Fields{"conn_id": connID, "file_id": p.FileID}).Warn("update rejected")
		c.gateway.ToConn(connID, EventUpdateResult, UpdateResult{
			FileID:  p.FileID,
			Success: false,
			Code:    ErrorCode(err),
			Message: err.Error(),
		})
		return nil
	}

	c.gateway.ToConn(connID, EventUpdateResult, UpdateResult{FileID: p.FileID, Success: true})
	if out.Snapshotted {
		c.broadcastHistory(ctx, p.FileID)
	}
	return nil
}

func (c *Coordinator) broadcastHistory(ctx context.Context, fileID string) {
	view, err := c.engine.GetHistory(ctx, fileID)
	if err != nil {
		c.log.WithError(err).WithField("file_id", fileID).Warn("failed to load history for broadcast")
		return
	}
	c.gateway.ToAll(ctx, editorChannel(fileID), EventReupdateHistory, view)
}

func (c *Coordinator) handleGetHistory(ctx context.Context, connID string, data json.RawMessage) error {
	var p FilePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"file_id": p.FileID}); err != nil {
		return err
	}

	view, err := c.engine.GetHistory(ctx, p.FileID)
	if err != nil {
		return err
	}
	c.gateway.ToConn(connID, EventGetHistoryResult, view)
	return nil
}

func (c *Coordinator) handleAddEditCount(ctx context.Context, connID string, data json.RawMessage) error {
	var p EditorPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"file_id": p.FileID, "user_id": p.UserID}); err != nil {
		return err
	}

	views, err := c.ledger.RecordEdit(ctx, p.FileID, p.UserID)
	if err != nil {
		return err
	}
	c.gateway.ToAll(ctx, editorChannel(p.FileID), EventAddEditCountResult, ContributionsResult{FileID: p.FileID, Contributions: views})
	return nil
}

func (c *Coordinator) handleAddFile(ctx context.Context, connID string, data json.RawMessage) error {
	var p AddFilePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID, "name": p.Name}); err != nil {
		return err
	}

	file, err := c.files.Create(ctx, &models.FileCreate{RoomID: p.RoomID, Name: p.Name, Type: p.Type})
	if err != nil {
		return err
	}
	c.gateway.ToAll(ctx, roomChannel(p.RoomID), EventFileAdded, file)
	return nil
}

func (c *Coordinator) handleDeleteFile(ctx context.Context, connID string, data json.RawMessage) error {
	var p EditorPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"file_id": p.FileID, "user_id": p.UserID}); err != nil {
		return err
	}

	refuse := func(err error) error {
		c.gateway.ToConn(connID, EventDeleteFileResult, DeleteFileResult{
			FileID:  p.FileID,
			Success: false,
			Code:    ErrorCode(err),
			Message: err.Error(),
		})
		return nil
	}

	file, err := c.files.GetByID(ctx, p.FileID)
	if err != nil {
		return refuse(err)
	}

	// presence is read after the store round-trip, not before
	editors, err := c.registry.EditorUsers(ctx, p.FileID)
	if err != nil {
		return refuse(fmt.Errorf("check editor: %w", err))
	}
	for _, u := range editors {
		if u.UserID != p.UserID {
			return refuse(fmt.Errorf("delete %s: %w", p.FileID, ErrConcurrencyDenied))
		}
	}

	if err := c.files.Delete(ctx, p.FileID); err != nil {
		return refuse(err)
	}

	// A join_editor can land between the presence check and the delete.
	// Every local connection still in the editor is moved out here, which
	// also covers such a late joiner.
	c.mu.Lock()
	for id, st := range c.conns {
		if st.fileID == p.FileID {
			c.leaveEditorLocked(ctx, id, st)
		}
	}
	c.mu.Unlock()

	c.gateway.ToConn(connID, EventDeleteFileResult, DeleteFileResult{FileID: p.FileID, Success: true})
	c.gateway.ToAll(ctx, roomChannel(file.RoomID), EventFileDeleted, FileDeleted{FileID: p.FileID, RoomID: file.RoomID})
	return nil
}

// Room document

func (c *Coordinator) handleSaveNotepad(ctx context.Context, connID string, data json.RawMessage) error {
	var p SaveNotepadPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID}); err != nil {
		return err
	}

	if err := c.rooms.SaveNotes(ctx, p.RoomID, p.Content); err != nil {
		return err
	}

	result := NotepadResult{RoomID: p.RoomID, Content: p.Content, Success: true}
	c.gateway.ToConn(connID, EventSaveNotepadResult, result)
	c.gateway.ToOthers(ctx, roomChannel(p.RoomID), EventNotepadUpdated, result, connID)
	return nil
}

func (c *Coordinator) handleLoadNotepad(ctx context.Context, connID string, data json.RawMessage) error {
	var p RoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID}); err != nil {
		return err
	}

	notes, err := c.rooms.LoadNotes(ctx, p.RoomID)
	if err != nil {
		return err
	}
	c.gateway.ToConn(connID, EventLoadNotepadResult, NotepadResult{RoomID: p.RoomID, Content: notes, Success: true})
	return nil
}

func (c *Coordinator) handleSendMessage(ctx context.Context, connID string, data json.RawMessage) error {
	var p SendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID, "sender_uid": p.SenderUID, "chat_body": p.ChatBody}); err != nil {
		return err
	}

	msg := &models.ChatMessage{RoomID: p.RoomID, SenderUID: p.SenderUID, ChatBody: p.ChatBody}
	if err := c.rooms.AppendMessage(ctx, msg); err != nil {
		return err
	}
	c.gateway.ToAll(ctx, roomChannel(p.RoomID), EventMessageReceived, msg)
	return nil
}

func (c *Coordinator) handleLoadMessages(ctx context.Context, connID string, data json.RawMessage) error {
	var p RoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID}); err != nil {
		return err
	}

	msgs, err := c.rooms.Messages(ctx, p.RoomID)
	if err != nil {
		return err
	}
	c.gateway.ToConn(connID, EventLoadMessagesResult, MessagesResult{RoomID: p.RoomID, Messages: msgs})
	return nil
}

func (c *Coordinator) handleSubmitFeedback(ctx context.Context, connID string, data json.RawMessage) error {
	var p SubmitFeedbackPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID, "professor_uid": p.ProfessorUID, "feedback_body": p.FeedbackBody}); err != nil {
		return err
	}

	fb := &models.Feedback{RoomID: p.RoomID, ProfessorUID: p.ProfessorUID, FeedbackBody: p.FeedbackBody}
	if err := c.rooms.AppendFeedback(ctx, fb); err != nil {
		return err
	}
	return c.broadcastFeedback(ctx, p.RoomID)
}

func (c *Coordinator) handleDeleteFeedback(ctx context.Context, connID string, data json.RawMessage) error {
	var p DeleteFeedbackPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID, "feedback_id": p.FeedbackID}); err != nil {
		return err
	}

	if err := c.rooms.DeleteFeedback(ctx, p.RoomID, p.FeedbackID); err != nil {
		return err
	}
	return c.broadcastFeedback(ctx, p.RoomID)
}

func (c *Coordinator) broadcastFeedback(ctx context.Context, roomID string) error {
	items, err := c.rooms.Feedback(ctx, roomID)
	if err != nil {
		return err
	}
	c.gateway.ToAll(ctx, roomChannel(roomID), EventFeedbackUpdated, FeedbackResult{RoomID: roomID, Feedback: items})
	return nil
}

func (c *Coordinator) handleLoadFeedback(ctx context.Context, connID string, data json.RawMessage) error {
	var p RoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := need(map[string]string{"room_id": p.RoomID}); err != nil {
		return err
	}

	items, err := c.rooms.Feedback(ctx, p.RoomID)
	if err != nil {
		return err
	}
	c.gateway.ToConn(connID, EventLoadFeedbackResult, FeedbackResult{RoomID: p.RoomID, Feedback: items})
	return nil
}
