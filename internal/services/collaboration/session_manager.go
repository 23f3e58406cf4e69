package collaboration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"coderoom/internal/logging"
	"coderoom/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1 << 20
	idleTimeout  = 5 * time.Minute
)

// SessionManager owns the live WebSocket sessions of this instance
type SessionManager struct {
	sessions   map[string]*Session
	register   chan *Session
	unregister chan *Session
	mu         sync.RWMutex

	coordinator *Coordinator
	sendBuffer  int

	done     chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

// Session is one WebSocket connection; it is the gateway Subscriber for it
type Session struct {
	*models.Session
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *SessionManager

	lastActive atomic.Int64

	sendMu    sync.Mutex
	sendDone  bool
	closeOnce sync.Once
}

// NewSessionManager creates a session manager feeding coordinator
func NewSessionManager(coordinator *Coordinator, sendBuffer int) *SessionManager {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		register:    make(chan *Session),
		unregister:  make(chan *Session),
		coordinator: coordinator,
		sendBuffer:  sendBuffer,
		done:        make(chan struct{}),
		log:         logging.Component("sessions"),
	}
}

// NewSession wraps an upgraded connection
func (sm *SessionManager) NewSession(conn *websocket.Conn, remoteAddr string) *Session {
	s := &Session{
		Session: models.NewSession(remoteAddr),
		Conn:    conn,
		Send:    make(chan []byte, sm.sendBuffer),
		Manager: sm,
	}
	s.touch()
	return s
}

// Start begins the session manager event loop
func (sm *SessionManager) Start() {
	sm.log.Info("starting WebSocket session manager")

	go func() {
		for {
			select {
			case <-sm.done:
				return

			case session := <-sm.register:
				sm.handleRegister(session)

			case session := <-sm.unregister:
				sm.handleUnregister(session)
			}
		}
	}()

	go sm.cleanupLoop()
}

// Register connects the session to the coordinator, then tracks it.
// The coordinator must know the session before its read pump starts.
func (sm *SessionManager) Register(session *Session) {
	sm.coordinator.Connect(session)
	select {
	case sm.register <- session:
	case <-sm.done:
	}
}

func (sm *SessionManager) handleRegister(session *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.sessions[session.ID()] = session
	sm.log.WithFields(logrus.Fields{
		"conn_id": session.ID(),
		"remote":  session.RemoteAddr,
		"total":   len(sm.sessions),
	}).Info("session connected")
}

func (sm *SessionManager) handleUnregister(session *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.sessions[session.ID()]; !ok {
		return
	}
	delete(sm.sessions, session.ID())
	session.closeSend()

	sm.log.WithFields(logrus.Fields{
		"conn_id": session.ID(),
		"total":   len(sm.sessions),
	}).Info("session disconnected")
}

// Count returns the number of tracked sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// cleanupLoop periodically closes idle sessions
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.closeIdle(time.Now(), idleTimeout)
		}
	}
}

// closeIdle closes sessions silent for longer than timeout; their read pumps
// then run the normal disconnect path.
func (sm *SessionManager) closeIdle(now time.Time, timeout time.Duration) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	n := 0
	for _, session := range sm.sessions {
		if now.Sub(session.LastActive()) > timeout {
			sm.log.WithField("conn_id", session.ID()).Info("closing idle session")
			session.Close()
			n++
		}
	}
	return n
}

// Shutdown closes every connection and stops the event loop
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() {
		sm.log.Info("shutting down session manager")
		close(sm.done)

		sm.mu.Lock()
		defer sm.mu.Unlock()

		for _, session := range sm.sessions {
			session.Close()
		}
		sm.sessions = make(map[string]*Session)
	})
}

// Session methods

func (s *Session) ID() string { return s.Session.ID }

// Deliver enqueues msg without blocking
func (s *Session) Deliver(msg []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendDone {
		return true
	}
	select {
	case s.Send <- msg:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection; the pumps exit on their own
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Conn != nil {
			s.Conn.Close()
		}
	})
}

func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.sendDone {
		s.sendDone = true
		close(s.Send)
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive is the time the last frame or pong arrived
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// ReadPump reads frames from the connection and hands them to the coordinator.
// When the connection ends it runs the disconnect path exactly once.
func (s *Session) ReadPump(ctx context.Context) {
	sm := s.Manager
	defer func() {
		sm.coordinator.Disconnect(ctx, s.ID())
		select {
		case sm.unregister <- s:
		case <-sm.done:
			s.closeSend()
		}
		s.Close()
	}()

	s.Conn.SetReadLimit(maxFrameSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sm.log.WithError(err).WithField("conn_id", s.ID()).Warn("WebSocket error")
			}
			return
		}

		s.touch()
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		sm.coordinator.HandleMessage(ctx, s.ID(), message)
	}
}

// WritePump writes queued frames to the connection and keeps it alive with pings
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
