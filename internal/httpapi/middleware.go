package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/web"
)

const (
	msgUnauthenticated = "Authentication required."
	msgForbidden       = "You do not have permission to perform this action."
	msgTooManyRequests = "Too many requests. Please try again later."
)

// Authenticator resolves a bearer access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (domain.Actor, error)
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.InfoContext(r.Context(), "http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency_ms", time.Since(start).Milliseconds(),
				"req_id", middleware.GetReqID(r.Context()),
				"ip", r.RemoteAddr,
				"ua", r.UserAgent(),
			)
		})
	}
}

// clientLimiter hands every remote address its own token bucket.
type clientLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	clientIdle   = 5 * time.Minute
	pruneAtCount = 4096
)

func newClientLimiter(perMinute, burst int, now func() time.Time) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     now,
		clients: make(map[string]*client),
	}
}

func (l *clientLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= pruneAtCount {
			l.prune(now)
		}
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

func (l *clientLimiter) prune(now time.Time) {
	for k, c := range l.clients {
		if now.Sub(c.seen) > clientIdle {
			delete(l.clients, k)
		}
	}
}

func (l *clientLimiter) middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(remoteIP(r)) {
				w.Header().Set("Retry-After", "60")
				web.Error(w, r, log, apperr.New(apperr.KindRateLimited, msgTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP strips the port; middleware.RealIP has already applied any
// forwarding headers.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate attaches the caller when a valid bearer token is present.
// Bad or missing tokens leave the request anonymous; requireAuth decides.
func authenticate(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				log.DebugContext(r.Context(), "rejected access token", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(web.WithActor(r.Context(), actor)))
		})
	}
}

func bearer(h string) string {
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func requireRole(log *slog.Logger, allowed func(domain.Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := web.ActorFrom(r.Context())
			switch {
			case actor.UserID == "":
				web.Error(w, r, log, apperr.Unauthorized(msgUnauthenticated))
			case !allowed(actor):
				web.Error(w, r, log, apperr.Forbidden(msgForbidden))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func requireAuth(log *slog.Logger) func(http.Handler) http.Handler {
	return requireRole(log, func(domain.Actor) bool { return true })
}

func requireStaff(log *slog.Logger) func(http.Handler) http.Handler {
	return requireRole(log, domain.Actor.IsStaff)
}

func requireAdmin(log *slog.Logger) func(http.Handler) http.Handler {
	return requireRole(log, func(a domain.Actor) bool { return a.Role == domain.RoleAdmin })
}

// recoverer answers a panic with the usual generic 500 body.
func recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.ErrorContext(r.Context(), "panic serving request",
						"panic", rec, "stack", string(debug.Stack()),
						"req_id", middleware.GetReqID(r.Context()))
					web.Error(w, r, nil, fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
