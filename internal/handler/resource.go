package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/leasepool-server-go/internal/blobstore"
	"github.com/openclaw/leasepool-server-go/internal/cookie"
	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/service"
)

type ResourceHandler struct {
	resources  *service.ResourceService
	lease      *service.LeaseService
	ledger     *service.CreditLedger
	reconciler *service.CookieReconciler
	retire     *service.RetireService
	blobs      blobstore.Store
}

func NewResourceHandler(
	resources *service.ResourceService,
	lease *service.LeaseService,
	ledger *service.CreditLedger,
	reconciler *service.CookieReconciler,
	retire *service.RetireService,
	blobs blobstore.Store,
) *ResourceHandler {
	return &ResourceHandler{
		resources:  resources,
		lease:      lease,
		ledger:     ledger,
		reconciler: reconciler,
		retire:     retire,
		blobs:      blobs,
	}
}

func (h *ResourceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/pools/{kind}", func(r chi.Router) {
		r.Get("/records", h.List)
		r.Post("/records", h.Create)
		r.Get("/lease", h.Lease)
		r.Get("/available", h.Available)
		r.Get("/without-cookie", h.WithoutCookie)
		r.Post("/reset-due", h.ResetDue)
	})

	r.Route("/records/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/spend", h.Spend)
		r.Post("/deduct", h.Deduct)
		r.Post("/retire", h.Retire)
		r.Put("/cookie", h.UpdateCookie)
		r.Get("/credits", h.Credits)
		r.Post("/reset", h.Reset)
	})

	return r
}

type leaseResponse struct {
	*model.Resource
	CookieURL string `json:"cookieUrl,omitempty"`
}

type listResponse struct {
	Items  []model.Resource `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (h *ResourceHandler) kind(r *http.Request) (service.PoolPolicy, error) {
	kind := model.Kind(chi.URLParam(r, "kind"))
	policy, ok := h.resources.Pools().Get(kind)
	if !ok {
		return service.PoolPolicy{}, errutil.NotFound("unknown pool " + strconv.Quote(string(kind)))
	}
	return policy, nil
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	limit, offset := parsePagination(r)
	items, total, err := h.resources.List(r.Context(), policy.Kind, limit, offset)
	if err != nil {
		writeError(w, r, err, "pools: failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	var params service.CreateResourceParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, r, err, "pools: invalid create body")
		return
	}

	res, err := h.resources.Create(r.Context(), policy.Kind, params)
	if err != nil {
		writeError(w, r, err, "pools: failed to create record")
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *ResourceHandler) Lease(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	requireCookie := policy.RequireCookie
	if v := r.URL.Query().Get("cookie"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errutil.Validation("cookie must be true or false"), "pools: invalid lease query")
			return
		}
		requireCookie = parsed
	}

	res, err := h.lease.LeaseOne(r.Context(), policy.Kind, requireCookie)
	if err != nil {
		writeError(w, r, err, "pools: lease failed")
		return
	}

	resp := leaseResponse{Resource: res}
	if policy.StoreBlob && res.CookieRef != nil {
		resp.CookieURL = h.blobs.URL(*res.CookieRef)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ResourceHandler) Available(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	res, err := h.ledger.FindAvailable(r.Context(), policy.Kind)
	if err != nil {
		writeError(w, r, err, "pools: no available record")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *ResourceHandler) WithoutCookie(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	items, err := h.resources.ListWithoutCookie(r.Context(), policy.Kind, limit)
	if err != nil {
		writeError(w, r, err, "pools: failed to list records without cookie")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *ResourceHandler) ResetDue(w http.ResponseWriter, r *http.Request) {
	policy, err := h.kind(r)
	if err != nil {
		writeError(w, r, err, "pools: unknown kind")
		return
	}

	count, err := h.ledger.ResetDue(r.Context(), policy.Kind)
	if err != nil {
		writeError(w, r, err, "pools: failed to reset due credits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"reset": count})
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	res, err := h.resources.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: failed to get record")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	res, err := h.retire.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: failed to delete record")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": res.ID})
}

func (h *ResourceHandler) Spend(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	result, err := h.resources.Spend(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: spend failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ResourceHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	body := struct {
		Amount int `json:"amount"`
	}{Amount: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, err, "records: invalid deduct body")
			return
		}
	}

	credits, err := h.ledger.Deduct(r.Context(), id, body.Amount)
	if err != nil {
		writeError(w, r, err, "records: deduct failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "credits": credits})
}

func (h *ResourceHandler) Retire(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	result, err := h.retire.ConsumeOrRetire(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: consume failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ResourceHandler) UpdateCookie(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, errutil.Validation("failed to read request body"), "records: invalid cookie body")
		return
	}

	payload, err := cookie.Parse(data)
	if err != nil {
		writeError(w, r, err, "records: invalid cookie payload")
		return
	}

	result, err := h.reconciler.ApplyCookieData(r.Context(), id, payload)
	if err != nil {
		writeError(w, r, err, "records: failed to apply cookie data")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ResourceHandler) Credits(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	status, err := h.ledger.CheckCredits(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: failed to check credits")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *ResourceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err, "records: invalid id")
		return
	}

	res, err := h.ledger.Reset(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "records: failed to reset credits")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
