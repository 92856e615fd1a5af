package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const DefaultSessionCookie = "storefront_session"

type sessionKey struct{}

// TokenVerifier turns a bearer token into the user it belongs to.
type TokenVerifier interface {
	Verify(token string) (*domain.User, error)
}

// SessionMiddleware makes sure every request carries a session id, issuing a new cookie
// for first-time visitors.
func SessionMiddleware(cookieName string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if c, err := r.Cookie(cookieName); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					sessionID = c.Value
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			// sliding expiry, matching the cart store TTL
			http.SetCookie(w, &http.Cookie{
				Name:     cookieName,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})

			ctx := context.WithValue(r.Context(), sessionKey{}, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

// Authenticate resolves the bearer token when one is sent. Requests without a token pass
// through anonymously; a bad token is rejected.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := identity.FromHeader(r.Header.Get("Authorization"))
			if errors.Is(err, identity.ErrMissingToken) {
				next.ServeHTTP(w, r)
				return
			}

			user, err := verifier.Verify(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := identity.WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.UserFromContext(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := identity.UserFromContext(r.Context())
		if u == nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		if !u.IsAdmin() {
			respondError(w, http.StatusForbidden, "permission_denied", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger attaches a request scoped logger and logs one line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With("request_id", middleware.GetReqID(r.Context()))
			ctx := logger.WithContext(r.Context(), reqLog)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLog.InfoContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}
