package collaboration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"coderoom/internal/db/dbtest"
	"coderoom/internal/models"
	"coderoom/internal/presence"
	"coderoom/internal/repository"

	"github.com/stretchr/testify/require"
)

// received is one frame a fake connection got
type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// fakeConn is a Subscriber that records frames in memory
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []received
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Deliver(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.full {
		return false
	}
	var r received
	if err := json.Unmarshal(msg, &r); err != nil {
		panic(err)
	}
	f.frames = append(f.frames, r)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events(name string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []json.RawMessage
	for _, r := range f.frames {
		if r.Event == name {
			out = append(out, r.Data)
		}
	}
	return out
}

func (f *fakeConn) count(name string) int { return len(f.events(name)) }

// last decodes the most recent frame of the given event into v
func (f *fakeConn) last(t *testing.T, name string, v interface{}) {
	t.Helper()
	evs := f.events(name)
	require.NotEmpty(t, evs, "no %s frame received", name)
	require.NoError(t, json.Unmarshal(evs[len(evs)-1], v))
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type harness struct {
	files    *repository.FileRepositoryImpl
	rooms    *repository.RoomRepositoryImpl
	users    *repository.UserRepositoryImpl
	registry *presence.MemoryRegistry
	gateway  *Gateway
	engine   *SyncEngine
	ledger   *Ledger
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb := dbtest.New(t)
	h := &harness{
		files:    repository.NewFileRepository(gdb),
		rooms:    repository.NewRoomRepository(gdb),
		users:    repository.NewUserRepository(gdb),
		registry: presence.NewMemoryRegistry(),
		gateway:  NewGateway(),
	}
	h.engine = NewSyncEngine(h.files, h.users, NewSnapshotPolicy(DefaultSnapshotDebounce))
	h.ledger = NewLedger(h.files, h.users)
	h.coord = NewCoordinator(h.registry, h.gateway, h.engine, h.ledger, h.files, h.rooms)
	return h
}

func (h *harness) connect(id string) *fakeConn {
	c := newFakeConn(id)
	h.coord.Connect(c)
	return c
}

func (h *harness) send(t *testing.T, conn *fakeConn, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(Frame{Event: event, Data: payload})
	require.NoError(t, err)
	h.coord.HandleMessage(context.Background(), conn.ID(), raw)
}

func (h *harness) newFile(t *testing.T, roomID, content string) *models.File {
	t.Helper()
	f, err := h.files.Create(context.Background(), &models.FileCreate{RoomID: roomID, Name: "main.py", Type: models.FileTypePython, Content: content})
	require.NoError(t, err)
	return f
}
