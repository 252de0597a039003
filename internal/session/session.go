// Package session keeps authenticated launch state server-side, referenced
// from the browser by an opaque cookie.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

// ContextKey is the name under which the launch context is stored inside a
// session, so host handlers can retrieve it later in the session's life.
const ContextKey = "lti_tool_provider_context"

// CookieName identifies the session cookie.
const CookieName = "ltisid"

var ErrNotFound = errors.New("session: not found")

// Data is what a launch leaves behind for the rest of the session.
type Data struct {
	UserID  string
	Launch  *lti.LaunchContext
	Expires time.Time
}

// Store persists sessions by opaque id.
type Store interface {
	Put(ctx context.Context, id string, d Data) error
	Get(ctx context.Context, id string) (Data, error)
	Delete(ctx context.Context, id string) error
}

// Manager issues and resolves session cookies over a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool

	Now func() time.Time
}

func NewManager(store Store, ttl time.Duration, secure bool) *Manager {
	return &Manager{store: store, ttl: ttl, secure: secure}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Begin writes a new session and sets its cookie on the response. LTI
// launches arrive as cross-site POSTs, so the cookie is SameSite=None and
// must be Secure to be accepted by browsers.
func (m *Manager) Begin(ctx context.Context, w http.ResponseWriter, userID string, lc *lti.LaunchContext) (string, error) {
	id := uuid.NewString()
	d := Data{UserID: userID, Launch: lc, Expires: m.now().Add(m.ttl)}
	if err := m.store.Put(ctx, id, d); err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteNoneMode,
	})
	return id, nil
}

// Resolve returns the live session for the request, or ErrNotFound when the
// cookie is absent, unknown, or expired.
func (m *Manager) Resolve(ctx context.Context, r *http.Request) (Data, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Data{}, ErrNotFound
	}
	d, err := m.store.Get(ctx, c.Value)
	if err != nil {
		return Data{}, err
	}
	if m.now().After(d.Expires) {
		_ = m.store.Delete(ctx, c.Value)
		return Data{}, ErrNotFound
	}
	return d, nil
}

// Drop deletes a session by id. Used when a launch is rejected after its
// session was already written.
func (m *Manager) Drop(ctx context.Context, id string) {
	_ = m.store.Delete(ctx, id)
}

// End removes the session referenced by the request, if any.
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		_ = m.store.Delete(ctx, c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteNoneMode,
	})
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]Data)}
}

func (s *MemoryStore) Put(_ context.Context, id string, d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = d
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.m[id]
	if !ok {
		return Data{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}
