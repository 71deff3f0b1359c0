package session

import (
	"errors"
	"sync"
	"time"

	"crucible/internal/storage"
)

// Manager caches sessions in memory over the database with LRU eviction.
// Eviction only drops the cache entry; the persisted record stays.
type Manager struct {
	db      *storage.DB
	mu      sync.Mutex
	cache   map[string]*Session
	maxSize int
}

// NewManager creates a session manager. maxSize bounds the cache.
func NewManager(db *storage.DB, maxSize int) *Manager {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Manager{
		db:      db,
		cache:   make(map[string]*Session),
		maxSize: maxSize,
	}
}

// Create creates and persists a new session.
func (m *Manager) Create(name string, env map[string]string, workdir string) (*Session, error) {
	rec := &storage.SessionRecord{Name: name, Env: env, Workdir: workdir}
	if err := m.db.CreateSession(rec); err != nil {
		// SQLite reports a primary key conflict as a generic error; probe
		// for the existing record to give callers a typed answer.
		if existing, getErr := m.db.GetSession(name); getErr == nil && existing != nil {
			return nil, ErrExists
		}
		return nil, err
	}

	s := fromRecord(rec)
	m.mu.Lock()
	m.cache[name] = s
	m.evictLocked()
	m.mu.Unlock()
	return s, nil
}

// Get retrieves a session, preferring the cache.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.cache[name]; ok {
		s.LastUsedAt = time.Now().UTC()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	rec, err := m.db.GetSession(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s := fromRecord(rec)
	m.mu.Lock()
	m.cache[name] = s
	m.evictLocked()
	m.mu.Unlock()
	return s, nil
}

// GetOrCreate retrieves a session or creates it with the given settings.
func (m *Manager) GetOrCreate(name string, env map[string]string, workdir string) (*Session, error) {
	s, err := m.Get(name)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.Create(name, env, workdir)
}

// Touch marks a session as used and persists the timestamp.
func (m *Manager) Touch(name string) error {
	m.mu.Lock()
	if s, ok := m.cache[name]; ok {
		s.LastUsedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	err := m.db.TouchSession(name)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// List returns all persisted sessions.
func (m *Manager) List() ([]*Session, error) {
	recs, err := m.db.ListSessions()
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, fromRecord(rec))
	}
	return sessions, nil
}

// Delete removes a session from cache and database.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	delete(m.cache, name)
	m.mu.Unlock()

	err := m.db.DeleteSession(name)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// evictLocked drops least-recently-used cache entries above maxSize.
// Caller holds m.mu.
func (m *Manager) evictLocked() {
	for len(m.cache) > m.maxSize {
		var oldest string
		var oldestAt time.Time
		for name, s := range m.cache {
			if oldest == "" || s.LastUsedAt.Before(oldestAt) {
				oldest = name
				oldestAt = s.LastUsedAt
			}
		}
		delete(m.cache, oldest)
	}
}

func fromRecord(rec *storage.SessionRecord) *Session {
	return &Session{
		Name:       rec.Name,
		Env:        rec.Env,
		Workdir:    rec.Workdir,
		CreatedAt:  rec.CreatedAt,
		LastUsedAt: rec.LastUsedAt,
	}
}
