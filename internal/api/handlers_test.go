package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coderoom/internal/api"
	"coderoom/internal/db/dbtest"
	"coderoom/internal/models"
	"coderoom/internal/presence"
	"coderoom/internal/repository"
	"coderoom/internal/services/collaboration"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   http.Handler
	files    *repository.FileRepositoryImpl
	users    *repository.UserRepositoryImpl
	registry *presence.MemoryRegistry
	engine   *collaboration.SyncEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	gdb := dbtest.New(t)
	files := repository.NewFileRepository(gdb)
	rooms := repository.NewRoomRepository(gdb)
	users := repository.NewUserRepository(gdb)
	registry := presence.NewMemoryRegistry()

	gateway := collaboration.NewGateway()
	engine := collaboration.NewSyncEngine(files, users, collaboration.NewSnapshotPolicy(collaboration.DefaultSnapshotDebounce))
	ledger := collaboration.NewLedger(files, users)
	coord := collaboration.NewCoordinator(registry, gateway, engine, ledger, files, rooms)

	sm := collaboration.NewSessionManager(coord, 16)
	sm.Start()
	t.Cleanup(sm.Shutdown)

	h := api.NewHandler(engine, files, rooms, users, registry, coord, collaboration.NewWebSocketHandler(sm))
	return &testServer{
		router:   api.SetupRoutes(h),
		files:    files,
		users:    users,
		registry: registry,
		engine:   engine,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatsAndRoomUsers(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.registry.JoinRoom(ctx, "R1", "U1", presence.RoleStudent)
	require.NoError(t, err)
	_, err = s.registry.JoinEditor(ctx, "F1", "U1")
	require.NoError(t, err)

	rec := s.do(t, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":1,"editors":1,"connections":0}`, rec.Body.String())

	rec = s.do(t, "GET", "/api/rooms/R1/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RoomID string              `json:"room_id"`
		Users  []presence.RoomUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "R1", body.RoomID)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "U1", body.Users[0].UserID)
}

func TestRoomFilesAndHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	file, err := s.files.Create(ctx, &models.FileCreate{RoomID: "R1", Name: "a.py"})
	require.NoError(t, err)
	_, err = s.engine.UpdateCode(ctx, file.ID, "U1", "print()", true)
	require.NoError(t, err)

	rec := s.do(t, "GET", "/api/rooms/R1/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), file.ID)

	rec = s.do(t, "GET", "/api/files/"+file.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view collaboration.HistoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.History, 1)
	assert.Equal(t, "print()", view.History[0].Content)

	rec = s.do(t, "GET", "/api/files/missing/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshMembers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "PUT", "/api/rooms/R1/members", `{"members":["U1","U2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"changed":true}`, rec.Body.String())

	rec = s.do(t, "PUT", "/api/rooms/R1/members", `{"members":["U2","U1"]}`)
	assert.JSONEq(t, `{"changed":false}`, rec.Body.String())

	rec = s.do(t, "PUT", "/api/rooms/R1/members", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "PUT", "/api/users/U1", `{"first_name":"Grace","last_name":"Hopper"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := s.users.Resolve(context.Background(), []string{"U1"})
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", got["U1"].Name)
}

func TestWebSocketThroughRouter(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "join_room",
		"data":  map[string]string{"room_id": "R9", "user_id": "U1"},
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		Event string `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "room_users_updated", frame.Event)
}
