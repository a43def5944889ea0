package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"admin-session/internal/auth"
	"admin-session/internal/observability"
)

type SessionCleaner interface {
	CleanupStale(ctx context.Context, sessionRetention, rateLimitRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type AuditCleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Retention struct {
	Sessions   time.Duration
	RateLimits time.Duration
	// Audit of zero keeps audit rows forever.
	Audit     time.Duration
	BatchSize int
}

type CleanupHandler struct {
	sessions   SessionCleaner
	audits     AuditCleaner
	logger     *observability.Logger
	cronSecret string
	retention  Retention
	now        func() time.Time
}

func NewCleanupHandler(sessions SessionCleaner, audits AuditCleaner, logger *observability.Logger, cronSecret string, retention Retention) *CleanupHandler {
	return &CleanupHandler{
		sessions:   sessions,
		audits:     audits,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type cleanupResult struct {
	auth.CleanupResult
	DeletedAuditLogs int64 `json:"deleted_audit_logs"`
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var result cleanupResult
	var err error
	result.CleanupResult, err = h.sessions.CleanupStale(r.Context(), h.retention.Sessions, h.retention.RateLimits, h.retention.BatchSize)
	if err != nil {
		h.fail(w, "session_cleanup_failed", err)
		return
	}

	if h.audits != nil && h.retention.Audit > 0 {
		result.DeletedAuditLogs, err = h.audits.DeleteOlderThan(r.Context(), h.now().Add(-h.retention.Audit), h.retention.BatchSize)
		if err != nil {
			h.fail(w, "audit_cleanup_failed", err)
			return
		}
	}

	h.logger.Info("security_cleanup_completed", map[string]any{
		"deleted_sessions":    result.DeletedSessions,
		"deleted_rate_limits": result.DeletedRateLimits,
		"deleted_audit_logs":  result.DeletedAuditLogs,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) fail(w http.ResponseWriter, event string, err error) {
	h.logger.Error(event, map[string]any{"error": err.Error()})
	sentry.CaptureException(err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
