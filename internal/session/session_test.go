package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

func testLaunch() *lti.LaunchContext {
	return lti.NewContext(lti.V1P0, "c1", "Example LMS", lti.UserIdentity{}, map[string]any{
		"context_id": "course-42",
	})
}

func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "https://tool.example.edu/next", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestManagerBeginResolveRoundTrip(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Hour, true)
	ctx := context.Background()
	rec := httptest.NewRecorder()

	sid, err := m.Begin(ctx, rec, "u-1", testLaunch())
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, sid, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)

	d, err := m.Resolve(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	assert.Equal(t, "u-1", d.UserID)
	require.NotNil(t, d.Launch)
	assert.Equal(t, "course-42", d.Launch.ContextID())
}

func TestManagerResolveExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewManager(NewMemoryStore(), time.Hour, true)
	m.Now = func() time.Time { return now }

	ctx := context.Background()
	rec := httptest.NewRecorder()
	_, err := m.Begin(ctx, rec, "u-1", testLaunch())
	require.NoError(t, err)

	m.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = m.Resolve(ctx, requestWithCookies(rec))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerResolveWithoutCookie(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Hour, true)
	r := httptest.NewRequest(http.MethodGet, "https://tool.example.edu/next", nil)

	_, err := m.Resolve(context.Background(), r)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerEndDeletesSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Hour, true)
	ctx := context.Background()
	rec := httptest.NewRecorder()
	_, err := m.Begin(ctx, rec, "u-1", testLaunch())
	require.NoError(t, err)

	endRec := httptest.NewRecorder()
	m.End(ctx, endRec, requestWithCookies(rec))

	_, err = m.Resolve(ctx, requestWithCookies(rec))
	assert.ErrorIs(t, err, ErrNotFound)

	cleared := endRec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}
