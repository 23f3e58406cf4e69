package collaboration

import (
	"encoding/json"
	"time"

	"coderoom/internal/models"
	"coderoom/internal/presence"
)

// Frame is the wire envelope in both directions: {"event": ..., "data": {...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Inbound events
const (
	EventJoinRoom       = "join_room"
	EventJoinEditor     = "join_editor"
	EventLeaveEditor    = "leave_editor"
	EventUpdateCode     = "update_code"
	EventGetHistory     = "get_history"
	EventAddEditCount   = "add_edit_count"
	EventAddFile        = "add_file"
	EventDeleteFile     = "delete_file"
	EventSaveNotepad    = "save_notepad"
	EventLoadNotepad    = "load_notepad"
	EventSendMessage    = "send_message"
	EventLoadMessages   = "load_messages"
	EventSubmitFeedback = "submit_feedback"
	EventDeleteFeedback = "delete_feedback"
	EventLoadFeedback   = "load_feedback"
	EventDisconnecting  = "disconnecting"
)

// Outbound events
const (
	EventRoomUsersUpdated   = "room_users_updated"
	EventEditorUsersUpdated = "editor_users_updated"
	EventUpdateResult       = "update_result"
	EventReupdateHistory    = "reupdate_history"
	EventGetHistoryResult   = "get_history_result"
	EventAddEditCountResult = "add_edit_count_result"
	EventFileAdded          = "file_added"
	EventFileDeleted        = "file_deleted"
	EventDeleteFileResult   = "delete_file_result"
	EventSaveNotepadResult  = "save_notepad_result"
	EventNotepadUpdated     = "notepad_updated"
	EventLoadNotepadResult  = "load_notepad_result"
	EventMessageReceived    = "message_received"
	EventLoadMessagesResult = "load_messages_result"
	EventFeedbackUpdated    = "feedback_updated"
	EventLoadFeedbackResult = "load_feedback_result"
	EventError              = "error"
)

// Channel names
func roomChannel(roomID string) string { return "room:" + roomID }
func editorChannel(fileID string) string { return "editor:" + fileID }

// Inbound payloads

type JoinRoomPayload struct {
	RoomID string        `json:"room_id"`
	UserID string        `json:"user_id"`
	Role   presence.Role `json:"role"`
}

type EditorPayload struct {
	FileID string `json:"file_id"`
	UserID string `json:"user_id"`
}

type UpdateCodePayload struct {
	FileID       string `json:"file_id"`
	UserID       string `json:"user_id"`
	Code         string `json:"code"`
	StoreHistory bool   `json:"store_history"`
}

type FilePayload struct {
	FileID string `json:"file_id"`
}

type AddFilePayload struct {
	RoomID string          `json:"room_id"`
	Name   string          `json:"name"`
	Type   models.FileType `json:"type"`
	UserID string          `json:"user_id"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

type SaveNotepadPayload struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

type SendMessagePayload struct {
	RoomID    string `json:"room_id"`
	SenderUID string `json:"sender_uid"`
	ChatBody  string `json:"chat_body"`
}

type SubmitFeedbackPayload struct {
	RoomID       string `json:"room_id"`
	ProfessorUID string `json:"professor_uid"`
	FeedbackBody string `json:"feedback_body"`
}

type DeleteFeedbackPayload struct {
	RoomID     string `json:"room_id"`
	FeedbackID string `json:"feedback_id"`
}

// Outbound payloads

type RoomUsersUpdated struct {
	RoomID string              `json:"room_id"`
	Users  []presence.RoomUser `json:"users"`
}

type EditorUsersUpdated struct {
	FileID string                `json:"file_id"`
	Users  []presence.EditorUser `json:"users"`
}

type UpdateResult struct {
	FileID  string `json:"file_id"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type ContributionsResult struct {
	FileID        string             `json:"file_id"`
	Contributions []ContributionView `json:"contributions"`
}

type FileDeleted struct {
	FileID string `json:"file_id"`
	RoomID string `json:"room_id"`
}

type DeleteFileResult struct {
	FileID  string `json:"file_id"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type NotepadResult struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

type MessagesResult struct {
	RoomID   string                `json:"room_id"`
	Messages []*models.ChatMessage `json:"messages"`
}

type FeedbackResult struct {
	RoomID   string             `json:"room_id"`
	Feedback []*models.Feedback `json:"feedback"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ContributionView is one contribution with the user resolved for display
type ContributionView struct {
	User      models.UserInfo `json:"user"`
	EditCount int             `json:"edit_count"`
}

// SnapshotView is one history entry as shown to clients
type SnapshotView struct {
	ID            uint               `json:"id"`
	Content       string             `json:"content"`
	CreatedAt     time.Time          `json:"created_at"`
	Contributions []ContributionView `json:"contributions"`
}

// HistoryView is the full history of a file plus its live contributions
type HistoryView struct {
	FileID        string             `json:"file_id"`
	History       []SnapshotView     `json:"history"`
	Contributions []ContributionView `json:"contributions"`
}
