// Package session tracks per-session interactive state: the working
// directory, the command history, and the one-command-at-a-time execution
// lock. Sessions live in memory only; the audit trail is what persists.
package session

import (
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/pkg/types"
)

var (
	ErrSessionExists    = errors.New("session already exists")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrMaxSessions      = errors.New("max sessions reached")
)

var sessionIDRe = regexp.MustCompile(`^session-[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// Session is one interactive context. The working directory is kept as an
// absolute host path inside the allowed root; Snapshot reports it in its
// virtual form.
type Session struct {
	mu sync.Mutex

	ID           string
	State        types.SessionState
	CreatedAt    time.Time
	LastActivity time.Time

	cwd string
	res *pathresolve.Resolver

	history      []string
	historyLimit int

	currentCommandID string
	execMu           sync.Mutex
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	res          *pathresolve.Resolver
	maxSessions  int
	historyLimit int
}

func NewManager(res *pathresolve.Resolver, maxSessions, historyLimit int) *Manager {
	if maxSessions <= 0 {
		maxSessions = 100
	}
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		res:          res,
		maxSessions:  maxSessions,
		historyLimit: historyLimit,
	}
}

func (m *Manager) Create() (*Session, error) {
	return m.CreateWithID("")
}

func (m *Manager) CreateWithID(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrMaxSessions
	}

	if id == "" {
		id = "session-" + uuid.NewString()
	} else if !sessionIDRe.MatchString(id) {
		return nil, ErrInvalidSessionID
	}
	if _, ok := m.sessions[id]; ok {
		return nil, ErrSessionExists
	}

	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		State:        types.SessionStateReady,
		CreatedAt:    now,
		LastActivity: now,
		cwd:          m.res.Root(),
		res:          m.res,
		historyLimit: m.historyLimit,
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	s.State = types.SessionStateClosed
	s.mu.Unlock()
	return true
}

// ReapExpired removes sessions past their absolute or idle timeout and
// returns them so the caller can emit events. A session waiting on a
// confirmation is busy, not idle; busy sessions are never reaped.
func (m *Manager) ReapExpired(now time.Time, sessionTimeout, idleTimeout time.Duration) []*Session {
	if sessionTimeout <= 0 && idleTimeout <= 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		createdAt := s.CreatedAt
		last := s.LastActivity
		busy := s.State == types.SessionStateBusy
		s.mu.Unlock()
		if busy {
			continue
		}

		expired := false
		if sessionTimeout > 0 && now.Sub(createdAt) > sessionTimeout {
			expired = true
		}
		if !expired && idleTimeout > 0 && now.Sub(last) > idleTimeout {
			expired = true
		}
		if expired {
			delete(m.sessions, id)
			s.mu.Lock()
			s.State = types.SessionStateClosed
			s.mu.Unlock()
			reaped = append(reaped, s)
		}
	}
	return reaped
}

// Snapshot returns the wire view of the session, with the working directory
// in its virtual form rooted at "/".
func (s *Session) Snapshot() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cwd := "/"
	if s.res != nil {
		cwd = s.res.Virtual(s.cwd)
	}
	return types.Session{
		ID:           s.ID,
		State:        s.State,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Cwd:          cwd,
	}
}

// CwdHost returns the working directory as an absolute host path.
func (s *Session) CwdHost() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// SetCwd records a new working directory. Callers resolve and containment
// check the path first.
func (s *Session) SetCwd(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd = host
}

// LockExec serializes command execution within the session. It blocks until
// any in-flight command finishes, marks the session busy, and returns the
// release func.
func (s *Session) LockExec() func() {
	s.execMu.Lock()
	s.mu.Lock()
	s.State = types.SessionStateBusy
	s.LastActivity = time.Now().UTC()
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.State = types.SessionStateReady
		s.currentCommandID = ""
		s.LastActivity = time.Now().UTC()
		s.mu.Unlock()
		s.execMu.Unlock()
	}
}

func (s *Session) SetCurrentCommandID(commandID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCommandID = commandID
}

func (s *Session) CurrentCommandID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCommandID
}

func (s *Session) TouchAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.LastActivity = t.UTC()
}

func (s *Session) Touch() { s.TouchAt(time.Now().UTC()) }

func (s *Session) Timestamps() (createdAt, lastActivity time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreatedAt, s.LastActivity
}

// RecordHistory appends line to the session history, dropping the oldest
// entries past the configured depth.
func (s *Session) RecordHistory(line string) {
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, line)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
}

// History returns a copy of the recorded lines, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}
