package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/service"
)

type BoomlifyHandler struct {
	mail           *service.MailService
	defaultTimeout time.Duration
}

func NewBoomlifyHandler(mail *service.MailService, defaultTimeout time.Duration) *BoomlifyHandler {
	return &BoomlifyHandler{mail: mail, defaultTimeout: defaultTimeout}
}

func (h *BoomlifyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/temp-mail", h.CreateTempMail)
	r.Get("/messages/{emailId}", h.Messages)
	r.Get("/messages/{emailId}/code", h.Code)
	return r
}

func (h *BoomlifyHandler) CreateTempMail(w http.ResponseWriter, r *http.Request) {
	mailbox, err := h.mail.IssueMailbox(r.Context())
	if err != nil {
		writeError(w, r, err, "boomlify: failed to issue mailbox")
		return
	}

	writeJSON(w, http.StatusCreated, mailbox)
}

func (h *BoomlifyHandler) Messages(w http.ResponseWriter, r *http.Request) {
	keyID, err := parseKeyID(r)
	if err != nil {
		writeError(w, r, err, "boomlify: invalid key id")
		return
	}

	emailID := chi.URLParam(r, "emailId")
	messages, err := h.mail.FetchMessages(r.Context(), emailID, keyID)
	if err != nil {
		writeError(w, r, err, "boomlify: failed to fetch messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"emailId": emailID, "messages": messages})
}

func (h *BoomlifyHandler) Code(w http.ResponseWriter, r *http.Request) {
	keyID, err := parseKeyID(r)
	if err != nil {
		writeError(w, r, err, "boomlify: invalid key id")
		return
	}

	timeout := h.defaultTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			writeError(w, r, errutil.Validation("timeout must be a positive number of seconds"), "boomlify: invalid timeout")
			return
		}
		timeout = time.Duration(seconds) * time.Second
	}

	emailID := chi.URLParam(r, "emailId")
	code, err := h.mail.WaitForCode(r.Context(), emailID, keyID, timeout)
	if err != nil {
		writeError(w, r, err, "boomlify: no verification code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"emailId": emailID, "code": code})
}

func parseKeyID(r *http.Request) (*int64, error) {
	v := r.URL.Query().Get("key_id")
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, errutil.Validation("key_id must be a positive integer")
	}
	return &id, nil
}
