package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/leasepool-server-go/internal/provider"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/service"
	"github.com/openclaw/leasepool-server-go/internal/testutil"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobs) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func newTestRouter(t *testing.T, boomlifyURL string) http.Handler {
	t.Helper()

	db := testutil.NewTestDB(t)
	repo := repository.NewResourceRepository(db)
	pools := service.DefaultPools()
	blobs := &memBlobs{objects: map[string][]byte{}}

	ledger := service.NewCreditLedger(repo, pools)
	retire := service.NewRetireService(db, repo, blobs, pools)
	resources := service.NewResourceService(repo, repository.NewStatsRepository(db), pools, ledger, retire, 5, service.DefaultCooldown)
	lease := service.NewLeaseService(repo, service.DefaultCooldown)
	reconciler := service.NewCookieReconciler(repo, blobs, pools)
	mail := service.NewMailService(repo, ledger, provider.NewClient(boomlifyURL, time.Second), 5*time.Millisecond, time.Second)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", NewStatsHandler(resources).Overview)
		r.Mount("/boomlify", NewBoomlifyHandler(mail, 200*time.Millisecond).Routes())
		r.Mount("/", NewResourceHandler(resources, lease, ledger, reconciler, retire, blobs).Routes())
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func idOf(t *testing.T, body map[string]any) int64 {
	t.Helper()
	id, ok := body["id"].(float64)
	require.True(t, ok, "response has no id: %v", body)
	return int64(id)
}

func TestResourceHandler_Records(t *testing.T) {
	h := newTestRouter(t, "")

	status, created := do(t, h, http.MethodPost, "/api/pools/felo/records", `{"email":"a@felo.ai","password":"pw"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(200), created["credits"])
	id := idOf(t, created)

	status, got := do(t, h, http.MethodGet, fmt.Sprintf("/api/records/%d", id), "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a@felo.ai", got["email"])

	status, list := do(t, h, http.MethodGet, "/api/pools/felo/records?limit=10", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), list["total"])

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown pool", http.MethodPost, "/api/pools/gmail/records", `{"email":"x"}`, http.StatusNotFound, "NOT_FOUND"},
		{"malformed body", http.MethodPost, "/api/pools/felo/records", `{"email":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing email", http.MethodPost, "/api/pools/capcut/records", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad id", http.MethodGet, "/api/records/abc", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing record", http.MethodGet, "/api/records/9999", "", http.StatusNotFound, "NOT_FOUND"},
		{"deduct below one", http.MethodPost, fmt.Sprintf("/api/records/%d/deduct", id), `{"amount":0}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad lease flag", http.MethodGet, "/api/pools/felo/lease?cookie=maybe", "", http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}

	t.Run("duplicate api key conflicts", func(t *testing.T) {
		status, _ := do(t, h, http.MethodPost, "/api/pools/api_key/records", `{"api_key":"bk_dup"}`)
		require.Equal(t, http.StatusCreated, status)
		status, body := do(t, h, http.MethodPost, "/api/pools/api_key/records", `{"api_key":"bk_dup"}`)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "CONFLICT", body["code"])
	})

	t.Run("delete then not found", func(t *testing.T) {
		status, _ := do(t, h, http.MethodDelete, fmt.Sprintf("/api/records/%d", id), "")
		assert.Equal(t, http.StatusOK, status)
		status, _ = do(t, h, http.MethodDelete, fmt.Sprintf("/api/records/%d", id), "")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestResourceHandler_LeaseFlow(t *testing.T) {
	h := newTestRouter(t, "")

	_, created := do(t, h, http.MethodPost, "/api/pools/felo/records", `{"email":"a@felo.ai"}`)
	id := idOf(t, created)

	status, body := do(t, h, http.MethodGet, "/api/pools/felo/lease", "")
	assert.Equal(t, http.StatusServiceUnavailable, status, "felo requires a cookie by default")
	assert.Equal(t, "POOL_EXHAUSTED", body["code"])

	expire := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	status, applied := do(t, h, http.MethodPut, fmt.Sprintf("/api/records/%d/cookie", id),
		fmt.Sprintf(`{"token":"felo-token","expire_date":%q}`, expire))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "felo-token", applied["reference"])

	status, leased := do(t, h, http.MethodGet, "/api/pools/felo/lease", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(id), leased["id"])
	assert.Equal(t, "felo-token", leased["cookieRef"])
	assert.Nil(t, leased["cookieUrl"])

	status, _ = do(t, h, http.MethodGet, "/api/pools/felo/lease?cookie=false", "")
	assert.Equal(t, http.StatusServiceUnavailable, status, "record is cooling down")
}

func TestResourceHandler_BlobPool(t *testing.T) {
	h := newTestRouter(t, "")

	_, created := do(t, h, http.MethodPost, "/api/pools/capcut/records", `{"email":"b@capcut.com"}`)
	id := idOf(t, created)

	expires := time.Now().Add(24 * time.Hour).Unix()
	status, applied := do(t, h, http.MethodPut, fmt.Sprintf("/api/records/%d/cookie", id),
		fmt.Sprintf(`[{"name":"sid_guard","value":"guard","expires":%d}]`, expires))
	require.Equal(t, http.StatusOK, status)
	key := fmt.Sprintf("cookies/capcut/%d.json", id)
	assert.Equal(t, key, applied["reference"])

	status, leased := do(t, h, http.MethodGet, "/api/pools/capcut/lease", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://cdn.example.com/"+key, leased["cookieUrl"])

	status, body := do(t, h, http.MethodPut, fmt.Sprintf("/api/records/%d/cookie", id), `[{"name":"sid_guard","value":"guard"}]`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestResourceHandler_Credits(t *testing.T) {
	h := newTestRouter(t, "")

	_, created := do(t, h, http.MethodPost, "/api/pools/api_key/records", `{"api_key":"bk_live","credits":2}`)
	id := idOf(t, created)

	status, spent := do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/spend", id), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "deduct", spent["policy"])
	assert.Equal(t, float64(1), spent["creditsRemaining"])

	status, deducted := do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/deduct", id), `{"amount":1}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), deducted["credits"])

	status, body := do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/deduct", id), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])

	status, _ = do(t, h, http.MethodGet, "/api/pools/api_key/available", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, reset := do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/reset", id), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(50), reset["credits"])

	status, credits := do(t, h, http.MethodGet, fmt.Sprintf("/api/records/%d/credits", id), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(50), credits["credits"])
	assert.NotNil(t, credits["nextReset"])

	status, due := do(t, h, http.MethodPost, "/api/pools/api_key/reset-due", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), due["reset"])

	status, _ = do(t, h, http.MethodPost, "/api/pools/felo/reset-due", "")
	assert.Equal(t, http.StatusBadRequest, status)

	_, felo := do(t, h, http.MethodPost, "/api/pools/felo/records", `{"email":"a@felo.ai","credits":1}`)
	status, retired := do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/retire", idOf(t, felo)), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, retired["retired"])

	status, _ = do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/retire", id), "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, h, http.MethodGet, fmt.Sprintf("/api/records/%d", id), "")
	assert.Equal(t, http.StatusOK, status)
}

func TestBoomlifyHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/emails/create" && r.Header.Get("x-api-key") == "bk_live":
			w.Write([]byte(`{"success":true,"email":{"id":"mb_1","address":"t@boomlify.com","expires_at":"2026-03-10T12:10:00Z"}}`))
		case r.URL.Path == "/emails/mb_1/messages":
			w.Write([]byte(`{"success":true,"messages":[{"subject":"Your code","text":"Use 314159 now"}]}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer upstream.Close()

	h := newTestRouter(t, upstream.URL)

	status, _ := do(t, h, http.MethodPost, "/api/boomlify/temp-mail", "")
	assert.Equal(t, http.StatusServiceUnavailable, status, "no api keys yet")

	_, key := do(t, h, http.MethodPost, "/api/pools/api_key/records", `{"api_key":"bk_live","credits":3}`)
	keyID := idOf(t, key)

	status, issued := do(t, h, http.MethodPost, "/api/boomlify/temp-mail", "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "mb_1", issued["id"])
	assert.Equal(t, float64(keyID), issued["api_key_id"])
	assert.Equal(t, float64(2), issued["credits_remaining"])

	status, messages := do(t, h, http.MethodGet, fmt.Sprintf("/api/boomlify/messages/mb_1?key_id=%d", keyID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, messages["messages"], 1)

	status, code := do(t, h, http.MethodGet, "/api/boomlify/messages/mb_1/code?timeout=1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "314159", code["code"])

	status, _ = do(t, h, http.MethodGet, "/api/boomlify/messages/mb_unknown/code", "")
	assert.Equal(t, http.StatusBadGateway, status)

	status, _ = do(t, h, http.MethodGet, "/api/boomlify/messages/mb_1?key_id=zero", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := pingerFunc(func(ctx context.Context) error { return nil })
	down := pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": ok}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}
