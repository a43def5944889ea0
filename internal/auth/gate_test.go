package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-session/internal/audit"
	"admin-session/internal/observability"
)

type gateFixture struct {
	*fixture
	gate   *Gate
	cookie CookieConfig
	calls  int
	last   Session
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := newFixture(t)
	cookie := CookieConfig{Name: DefaultCookieName, Secure: true}
	return &gateFixture{
		fixture: f,
		cookie:  cookie,
		gate:    NewGate(f.sessions, f.auditor, IPResolver{}, cookie, observability.Nop()),
	}
}

func (g *gateFixture) protected() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.calls++
		g.last, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func gateRequest(path, ip, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if ip != "" {
		req.Header.Set("CF-Connecting-IP", ip)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	}
	return req
}

func clearedCookie(rec *httptest.ResponseRecorder) bool {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == DefaultCookieName && cookie.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestGateNoCookie(t *testing.T) {
	g := newGateFixture(t)
	rec := httptest.NewRecorder()

	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "203.0.113.20", ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	assert.Equal(t, 0, g.calls)
	assert.Equal(t, 0, g.store.lookups(), "no session lookup without a cookie")
	assert.Equal(t, []string{audit.ReasonNoSessionToken}, g.auditor.reasons())

	record := g.auditor.unauthorized[0]
	assert.Equal(t, "203.0.113.20", record.meta.IPAddress)
	assert.Equal(t, "/api/admin/audit-logs", record.meta.Path)
}

func TestGateMalformedCookie(t *testing.T) {
	g := newGateFixture(t)
	rec := httptest.NewRecorder()

	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "203.0.113.21", "too-short"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, g.store.lookups())
	assert.True(t, clearedCookie(rec))
	assert.Equal(t, []string{audit.ReasonInvalidSessionToken}, g.auditor.reasons())
}

func TestGateIPBinding(t *testing.T) {
	ctx := context.Background()
	g := newGateFixture(t)
	g.store.addAccount("admin", testPassword, true)

	result, err := g.service.Login(ctx, "admin", testPassword, Client{IP: "203.0.113.30"})
	require.NoError(t, err)
	token := result.Session.Token

	rec := httptest.NewRecorder()
	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "203.0.113.30", token))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, g.calls)
	assert.Equal(t, result.Session.AccountID, g.last.AccountID)
	assert.Empty(t, g.auditor.reasons())

	rec = httptest.NewRecorder()
	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "198.51.100.30", token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, g.calls)
	assert.True(t, clearedCookie(rec))
	assert.Equal(t, []string{audit.ReasonInvalidSessionToken}, g.auditor.reasons())
}

func TestGateUnresolvedIPIsDenied(t *testing.T) {
	ctx := context.Background()
	g := newGateFixture(t)
	g.store.addAccount("admin", testPassword, true)

	result, err := g.service.Login(ctx, "admin", testPassword, Client{IP: UnknownIP})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "", result.Session.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, g.calls)
}

func TestGatePageRedirects(t *testing.T) {
	g := newGateFixture(t)
	rec := httptest.NewRecorder()

	g.gate.Page(g.protected()).ServeHTTP(rec, gateRequest("/admin", "203.0.113.40", strings.Repeat("c", TokenLength)))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, UnauthorizedPath, rec.Header().Get("Location"))
	assert.Equal(t, 1, g.store.lookups())
	assert.Equal(t, []string{audit.ReasonInvalidSessionToken}, g.auditor.reasons())
}

func TestGateStorageFailureFailsClosed(t *testing.T) {
	g := newGateFixture(t)
	g.store.err = storageError("query session", errors.New("connection refused"))

	rec := httptest.NewRecorder()
	g.gate.API(g.protected()).ServeHTTP(rec, gateRequest("/api/admin/audit-logs", "203.0.113.50", strings.Repeat("d", TokenLength)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, g.calls)

	rec = httptest.NewRecorder()
	g.gate.Page(g.protected()).ServeHTTP(rec, gateRequest("/admin", "203.0.113.50", strings.Repeat("d", TokenLength)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, g.calls)
}
