package middleware

import (
	"net/http"

	"github.com/openclaw/leasepool-server-go/internal/config"
	"github.com/openclaw/leasepool-server-go/internal/errutil"
)

type BodyLimitMiddleware struct {
	maxBytes int64
}

// NewBodyLimitMiddleware caps request bodies at maxBytes; 0 uses config.MaxRequestBodyBytes.
func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = config.MaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", errutil.CodeValidation)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
