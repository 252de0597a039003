package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/launch"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

func v3Directory(t *testing.T) *consumer.MemoryDirectory {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return consumer.NewMemoryDirectory(&consumer.Consumer{
		ID:            "c3",
		Label:         "Example LMS",
		Version:       lti.V1P3,
		Issuer:        "https://lms.example.edu",
		ClientID:      "tool-client-1",
		DeploymentIDs: []string{"dep-1"},
		AuthLoginURL:  "https://lms.example.edu/auth",
		KeySetURL:     "https://lms.example.edu/jwks",
		ToolKeyID:     "tool-key-1",
		ToolKey:       key,
	})
}

func TestLoginHandlerRedirectsToPlatform(t *testing.T) {
	h := LoginHandler(v3Directory(t), "https://tool.example.edu/lti/launch", true, zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet,
		"https://tool.example.edu/lti/v1p3/login?iss=https%3A%2F%2Flms.example.edu&login_hint=u-9&target_link_uri=https%3A%2F%2Ftool.example.edu%2Flti%2Flaunch&lti_message_hint=mh-1", nil)
	rec := httptest.NewRecorder()
	h(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	assert.Equal(t, "lms.example.edu", loc.Host)
	assert.Equal(t, "/auth", loc.Path)
	q := loc.Query()
	assert.Equal(t, "openid", q.Get("scope"))
	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, "form_post", q.Get("response_mode"))
	assert.Equal(t, "none", q.Get("prompt"))
	assert.Equal(t, "tool-client-1", q.Get("client_id"))
	assert.Equal(t, "https://tool.example.edu/lti/launch", q.Get("redirect_uri"))
	assert.Equal(t, "u-9", q.Get("login_hint"))
	assert.Equal(t, "mh-1", q.Get("lti_message_hint"))
	assert.NotEmpty(t, q.Get("nonce"))

	// The state cookie binds this browser to the upcoming launch.
	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == launch.StateCookie {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, q.Get("state"), stateCookie.Value)
	assert.True(t, stateCookie.Secure)
}

func TestLoginHandlerRejectsUnknownPlatform(t *testing.T) {
	h := LoginHandler(v3Directory(t), "https://tool.example.edu/lti/launch", true, zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet,
		"https://tool.example.edu/lti/v1p3/login?iss=https%3A%2F%2Frogue.example.com&login_hint=u-9&target_link_uri=x&lti_message_hint=mh-1", nil)
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginHandlerRejectsMalformedInitiation(t *testing.T) {
	h := LoginHandler(v3Directory(t), "https://tool.example.edu/lti/launch", true, zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet, "https://tool.example.edu/lti/v1p3/login?iss=x", nil)
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJWKSHandlerServesToolKeys(t *testing.T) {
	h := JWKSHandler(v3Directory(t))

	r := httptest.NewRequest(http.MethodGet, "https://tool.example.edu/lti/v1p3/jwks?client_id=tool-client-1", nil)
	rec := httptest.NewRecorder()
	h(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var set lti.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "tool-key-1", set.Keys[0]["kid"])

	// Conditional refetch.
	r = httptest.NewRequest(http.MethodGet, "https://tool.example.edu/lti/v1p3/jwks?client_id=tool-client-1", nil)
	r.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h(rec, r)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestJWKSHandlerAcceptsFormPostedClientID(t *testing.T) {
	h := JWKSHandler(v3Directory(t))

	r := httptest.NewRequest(http.MethodPost, "https://tool.example.edu/lti/v1p3/jwks",
		strings.NewReader("client_id=tool-client-1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var set lti.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "tool-key-1", set.Keys[0]["kid"])
}

func TestJWKSHandlerUnknownClient(t *testing.T) {
	h := JWKSHandler(v3Directory(t))

	r := httptest.NewRequest(http.MethodGet, "https://tool.example.edu/lti/v1p3/jwks?client_id=nobody", nil)
	rec := httptest.NewRecorder()
	h(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "https://tool.example.edu/lti/v1p3/jwks", nil)
	rec = httptest.NewRecorder()
	h(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
