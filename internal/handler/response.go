package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError maps a classified error to its status. Unclassified errors and
// storage failures are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	code := errutil.CodeOf(err)
	status := errutil.HTTPStatus(code)

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg(action)
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg(action)
	}

	httputil.WriteError(w, status, errutil.Message(err), string(code))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errutil.Validation("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return errutil.Validation("request body is empty")
		}
		return errutil.Validation("invalid JSON body")
	}
	return nil
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errutil.Validation("id must be a positive integer")
	}
	return id, nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}
