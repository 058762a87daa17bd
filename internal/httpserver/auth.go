package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kcmh-his/sql-copilot/internal/auth"
)

type contextKey string

const userContextKey contextKey = "user"

// requireAuth decodes the session cookie and rejects the request with
// 401 if it is missing, expired, or otherwise invalid. On success the
// decoded identity rides in the request context for handlers below.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.sessionCookieName)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		user, ok := auth.DecodeSessionToken(s.secretKey, cookie.Value)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(r *http.Request) (auth.UserInfo, bool) {
	user, ok := r.Context().Value(userContextKey).(auth.UserInfo)
	return user, ok
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// handleLogin verifies credentials against the roster, rate-limiting
// repeated failures per client IP, and sets a signed session cookie on
// success. Mirrors main.py's /login handler, minus the HTML template
// rendering — this server speaks JSON only.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limiter.IsBlocked(ip) {
		remaining := s.limiter.RemainingSeconds(ip)
		s.logger.WarnContext(r.Context(), "rate limited login attempt", "ip", ip, "remaining_seconds", remaining)
		writeJSONError(w, http.StatusTooManyRequests, "too many failed attempts, please try again later")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := s.users.Verify(req.Email, req.Password)
	if !ok {
		s.limiter.RecordFailure(ip)
		s.logger.InfoContext(r.Context(), "failed login attempt", "email", req.Email, "ip", ip)
		writeJSONError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.limiter.RecordSuccess(ip)
	s.logger.InfoContext(r.Context(), "successful login", "email", user.Email, "role", user.Role)

	token, err := auth.CreateSessionToken(s.secretKey, s.sessionMaxAge, user)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to create session token", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    token,
		MaxAge:   int(s.sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Email: user.Email, Name: user.Name, Department: user.Department, Role: user.Role,
	})
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
