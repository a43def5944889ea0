package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"admin-session/internal/observability"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 12
	maxPasswordLength = 200
	adminHomePath     = "/admin"
)

type Handler struct {
	service  *Service
	resolver IPResolver
	cookie   CookieConfig
	logger   *observability.Logger
}

func NewHandler(service *Service, resolver IPResolver, cookie CookieConfig, logger *observability.Logger) *Handler {
	return &Handler{service: service, resolver: resolver, cookie: cookie, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success  bool        `json:"success"`
	Redirect string      `json:"redirect"`
	User     AccountView `json:"user"`
}

type statusResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *AccountView `json:"user,omitempty"`
}

func (h *Handler) client(r *http.Request) Client {
	return Client{IP: h.resolver.ClientIP(r), UserAgent: r.UserAgent()}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	result, err := h.service.Login(r.Context(), body.Username, body.Password, h.client(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(lockedErr.Remaining.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, lockoutMessage(LockoutMinutes(lockedErr.Remaining)))
			return
		}
		h.failed(w, "login", err)
		return
	}

	h.cookie.Set(w, result.Session.Token, result.Session.ExpiresAt, h.service.Sessions().Duration())
	writeJSON(w, http.StatusOK, loginResponse{Success: true, Redirect: adminHomePath, User: result.User})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	token := h.cookie.Token(r)

	result, err := h.service.Status(r.Context(), token, h.client(r))
	if err != nil {
		h.failed(w, "session status", err)
		return
	}

	if !result.Authenticated {
		if token != "" {
			h.cookie.Clear(w)
		}
		writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return
	}

	h.cookie.Set(w, token, result.ExpiresAt, h.service.Sessions().Duration())
	writeJSON(w, http.StatusOK, statusResponse{Authenticated: true, User: result.User})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), h.cookie.Token(r), h.client(r)); err != nil {
		h.failed(w, "logout", err)
		return
	}

	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	body.Username = normalizeUsername(body.Username)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	view, err := h.service.Setup(r.Context(), bearerToken(r), body.Username, body.Password, h.client(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrSetupDisabled):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, ErrInvalidSetupToken):
			writeError(w, http.StatusUnauthorized, "invalid setup token")
		case errors.Is(err, ErrAccountExists):
			writeError(w, http.StatusConflict, "account already exists")
		default:
			h.failed(w, "setup", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": view})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	username := normalizeUsername(chi.URLParam(r, "username"))
	if !usernameRegex.MatchString(username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}

	view, err := h.service.Deactivate(r.Context(), username, actor, h.client(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.failed(w, "deactivate account", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": view})
}

// failed maps storage outages to a retryable 503 and anything else to 500.
func (h *Handler) failed(w http.ResponseWriter, op string, err error) {
	h.logger.Error("auth_request_failed", map[string]any{"op": op, "error": err.Error()})
	sentry.CaptureException(err)

	if errors.Is(err, ErrStorageUnavailable) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return credentialsRequest{}, false
	}
	return body, true
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func lockoutMessage(minutes int) string {
	if minutes == 1 {
		return "Too many failed attempts. Try again in 1 minute."
	}
	return fmt.Sprintf("Too many failed attempts. Try again in %d minutes.", minutes)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
