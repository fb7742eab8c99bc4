package middleware

import (
	"context"
	"net/http"

	"github.com/fyuze/fyuze/pkg/common"
	"github.com/fyuze/fyuze/pkg/logger"
)

type ctxKey int

const userIDKey ctxKey = 0

type (
	ISessionManager interface {
		IsAuthenticated() bool
		UserID() string
	}
	Auth struct {
		SessionManager ISessionManager
		noAuthUrls     map[string]struct{}
	}
)

// NewAuthMiddleware guards every route except noAuthUrls behind a signed-in
// session.
func NewAuthMiddleware(sm ISessionManager, noAuthUrls map[string]struct{}) *Auth {
	return &Auth{
		SessionManager: sm,
		noAuthUrls:     noAuthUrls,
	}
}

func (auth Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.noAuthUrls[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		if !auth.SessionManager.IsAuthenticated() {
			logger.Log(r.Context()).Infof("auth: %s %s without session", r.Method, r.URL.Path)
			common.WriteMsg(w, "authorization required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, auth.SessionManager.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the user id set by the auth middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}
