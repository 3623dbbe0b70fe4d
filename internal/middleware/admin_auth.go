package middleware

import (
	"net/http"
	"strings"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/util"
)

type AdminAuthMiddleware struct {
	tokenHash string
}

// NewAdminAuthMiddleware guards routes with a static bearer token. An empty
// token leaves the routes open.
func NewAdminAuthMiddleware(token string) *AdminAuthMiddleware {
	m := &AdminAuthMiddleware{}
	if token != "" {
		m.tokenHash = util.HashToken(token)
	}
	return m
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", errutil.CodeUnauthorized)
			return
		}

		if !util.ConstantTimeEqual(util.HashToken(token), m.tokenHash) {
			writeError(w, http.StatusUnauthorized, "Invalid token", errutil.CodeUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
