// Package httpserver wires the chi router that fronts the copilot:
// chat/health under /api, a signed-cookie login/logout pair, and the
// embedded static chat UI. It owns no business logic of its own — it
// decodes requests, calls internal/orchestrator and internal/rolefilter,
// and encodes responses.
package httpserver

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kcmh-his/sql-copilot/internal/auth"
	"github.com/kcmh-his/sql-copilot/internal/executor"
	"github.com/kcmh-his/sql-copilot/internal/log"
	"github.com/kcmh-his/sql-copilot/internal/orchestrator"
	"github.com/kcmh-his/sql-copilot/internal/ratelimit"
)

// Server holds everything an HTTP handler needs to serve a request.
// One instance is built at startup and shared across all requests.
type Server struct {
	orchestrator      *orchestrator.Orchestrator
	exec              *executor.Executor
	users             *auth.UserStore
	limiter           *ratelimit.LoginLimiter
	logger            log.Logger
	secretKey         string
	sessionCookieName string
	sessionMaxAge     time.Duration
}

// New builds a Server. secretKey and sessionMaxAge come from
// config.Settings (SecretKey / SessionMaxAgeSec).
func New(
	orch *orchestrator.Orchestrator,
	exec *executor.Executor,
	users *auth.UserStore,
	limiter *ratelimit.LoginLimiter,
	logger log.Logger,
	secretKey, sessionCookieName string,
	sessionMaxAge time.Duration,
) *Server {
	return &Server{
		orchestrator:      orch,
		exec:              exec,
		users:             users,
		limiter:           limiter,
		logger:            logger,
		secretKey:         secretKey,
		sessionCookieName: sessionCookieName,
		sessionMaxAge:     sessionMaxAge,
	}
}

// Router assembles the full mux: security headers and CORS on every
// route, auth required on /api/chat and /api/logout, the embedded
// static UI mounted at /, and an unauthenticated /api/health and
// /api/login.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/chat", s.handleChat)
		r.Post("/api/logout", s.handleLogout)
	})

	r.Mount("/", webRouter())

	return r
}

// securityHeaders mirrors the original's SecurityHeadersMiddleware:
// a fixed set of defensive headers on every response, regardless of
// route or outcome.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// clientIP returns X-Forwarded-For's first hop when present, falling
// back to RemoteAddr — matching the original's proxy-aware extraction
// used to key the login rate limiter.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
