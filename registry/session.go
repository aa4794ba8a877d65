package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNoIdleHandle = errors.New("no idle handles available")

// Session holds one handle exclusively for a streaming caller until it is
// released or goes idle past the table's timeout.
type Session struct {
	ID     string
	Handle *Handle

	mu         sync.Mutex
	lastActive time.Time

	cancelTimer chan struct{}
	cancelOnce  sync.Once
	closeOnce   sync.Once

	// OnClose runs once when the session is released, with the reason.
	// The websocket face uses it to close the peer connection.
	OnClose func(reason string)
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

type SessionTable struct {
	reg         *Registry
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionTable(reg *Registry, idleTimeout time.Duration) *SessionTable {
	return &SessionTable{
		reg:         reg,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

func (t *SessionTable) IdleTimeout() time.Duration {
	return t.idleTimeout
}

// Alloc claims the first idle handle and binds it to a new session.
func (t *SessionTable) Alloc() (*Session, error) {
	var chosen *Handle
	for _, h := range t.reg.List() {
		if h.tryAcquire() {
			chosen = h
			break
		}
	}
	if chosen == nil {
		return nil, ErrNoIdleHandle
	}

	sess := &Session{
		ID:          uuid.New().String(),
		Handle:      chosen,
		lastActive:  time.Now(),
		cancelTimer: make(chan struct{}),
	}
	t.mu.Lock()
	t.sessions[sess.ID] = sess
	t.mu.Unlock()
	return sess, nil
}

func (t *SessionTable) Get(sessionID string) (*Session, bool) {
	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	return sess, ok
}

// Release drops the session and returns its handle to the idle pool.
// A second release of the same id reports false.
func (t *SessionTable) Release(sessionID string, reason string) bool {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	sess.closeOnce.Do(func() {
		if sess.OnClose != nil {
			sess.OnClose(reason)
		}
	})
	sess.cancelOnce.Do(func() {
		close(sess.cancelTimer)
	})
	sess.Handle.release()
	return true
}

// StartIdleMonitor releases the session once it sits idle past the timeout.
func (t *SessionTable) StartIdleMonitor(sess *Session) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sess.cancelTimer:
				return
			case <-ticker.C:
				if sess.idleFor() > t.idleTimeout {
					t.Release(sess.ID, "idle timeout, released")
					return
				}
			}
		}
	}()
}
