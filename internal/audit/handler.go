package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Lister interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

type Handler struct {
	lister Lister
}

func NewHandler(lister Lister) *Handler {
	return &Handler{lister: lister}
}

// ListEntries serves GET /api/admin/audit-logs?action=&limit=&before=&before_id=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.lister.List(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "audit log temporarily unavailable")
		return
	}

	var next, nextID string
	if len(entries) == filter.Limit && len(entries) > 0 {
		last := entries[len(entries)-1]
		next = last.CreatedAt.UTC().Format(time.RFC3339Nano)
		nextID = last.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":        entries,
		"next_before":    next,
		"next_before_id": nextID,
	})
}

func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	query := r.URL.Query()
	filter := Filter{Limit: defaultListLimit}

	if raw := strings.TrimSpace(query.Get("action")); raw != "" {
		action := Action(raw)
		if !action.Valid() {
			writeError(w, http.StatusBadRequest, "unknown action")
			return Filter{}, false
		}
		filter.Action = action
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return Filter{}, false
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	if raw := strings.TrimSpace(query.Get("before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return Filter{}, false
		}
		filter.Before = before
	}

	if raw := strings.TrimSpace(query.Get("before_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil || filter.Before.IsZero() {
			writeError(w, http.StatusBadRequest, "before_id must be a UUID and requires before")
			return Filter{}, false
		}
		filter.BeforeID = id.String()
	}

	return filter, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
