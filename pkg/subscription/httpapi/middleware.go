package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Session refresh headers.
const (
	HeaderSessionRefreshed = "X-Session-Refreshed"
	HeaderSessionExpiresAt = "X-Session-Expires-At"
)

type userKey struct{}

// RequestIDExtractor adds the chi request id to log records.
func RequestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id := middleware.GetReqID(ctx); id != "" {
		return logger.RequestID(id), true
	}
	return slog.Attr{}, false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func (a *api) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			a.fail(w, r, ErrMissingToken)
			return
		}

		res, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if res.Refreshed {
			w.Header().Set(HeaderSessionRefreshed, "true")
			w.Header().Set(HeaderSessionExpiresAt, res.ExpiresAt.UTC().Format(time.RFC3339))
		}

		ctx := context.WithValue(r.Context(), userKey{}, res.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *api) requireAdmin(next http.Handler) http.Handler {
	want := []byte(a.cfg.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			a.fail(w, r, ErrMissingToken)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			a.fail(w, r, ErrInvalidAdminToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userFrom returns the authenticated user. Only valid behind requireSession.
func userFrom(ctx context.Context) *subscription.User {
	u, _ := ctx.Value(userKey{}).(*subscription.User)
	return u
}
