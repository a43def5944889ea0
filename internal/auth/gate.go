package auth

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"

	"admin-session/internal/audit"
	"admin-session/internal/observability"
)

const UnauthorizedPath = "/unauthorized"

type sessionContextKey struct{}

// SessionFromContext returns the session the gate validated for this request.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}

// Gate guards protected routes. Every denial is audited before the response
// is written, and a storage failure is never turned into an allow.
type Gate struct {
	sessions *SessionManager
	auditor  Auditor
	resolver IPResolver
	cookie   CookieConfig
	logger   *observability.Logger
}

func NewGate(sessions *SessionManager, auditor Auditor, resolver IPResolver, cookie CookieConfig, logger *observability.Logger) *Gate {
	return &Gate{
		sessions: sessions,
		auditor:  auditor,
		resolver: resolver,
		cookie:   cookie,
		logger:   logger,
	}
}

// API answers denials with 401 {"error":"Unauthorized"}.
func (g *Gate) API(next http.Handler) http.Handler {
	return g.guard(next,
		func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		},
		func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		},
	)
}

// Page redirects denials to the unauthorized page.
func (g *Gate) Page(next http.Handler) http.Handler {
	return g.guard(next,
		func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, UnauthorizedPath, http.StatusSeeOther)
		},
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Service temporarily unavailable, please retry.", http.StatusServiceUnavailable)
		},
	)
}

func (g *Gate) guard(next http.Handler, deny, unavailable http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := g.resolver.ClientIP(r)
		meta := audit.RequestMeta{
			IPAddress: ip,
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		}

		token := g.cookie.Token(r)
		if token == "" {
			_ = g.auditor.RecordUnauthorized(ctx, meta, audit.ReasonNoSessionToken)
			deny(w, r)
			return
		}

		session, verdict, err := g.sessions.Validate(ctx, token, ip)
		if err != nil {
			g.logger.Error("session_validation_failed", map[string]any{
				"path":  r.URL.Path,
				"ip":    ip,
				"error": err.Error(),
			})
			sentry.CaptureException(err)
			unavailable(w, r)
			return
		}

		if !verdict.OK() {
			g.logger.Info("session_denied", map[string]any{
				"path":    r.URL.Path,
				"ip":      ip,
				"verdict": verdict.String(),
			})
			_ = g.auditor.RecordUnauthorized(ctx, meta, audit.ReasonInvalidSessionToken)
			g.cookie.Clear(w)
			deny(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey{}, session)))
	})
}
