package middleware

import (
	"net/http"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/httputil"
)

func writeError(w http.ResponseWriter, status int, message string, code errutil.Code) {
	httputil.WriteError(w, status, message, string(code))
}
