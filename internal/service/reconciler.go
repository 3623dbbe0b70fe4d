package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/blobstore"
	"github.com/openclaw/leasepool-server-go/internal/cookie"
	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/repository"
)

type CookieResult struct {
	ID         int64     `json:"id"`
	ExpireDate time.Time `json:"expireDate"`
	Reference  string    `json:"reference"`
	URL        string    `json:"url,omitempty"`
}

type CookieReconciler struct {
	repo  repository.ResourceRepository
	blobs blobstore.Store
	pools *Pools
	now   func() time.Time
}

func NewCookieReconciler(repo repository.ResourceRepository, blobs blobstore.Store, pools *Pools) *CookieReconciler {
	return &CookieReconciler{repo: repo, blobs: blobs, pools: pools, now: utcNow}
}

// ApplyCookieData replaces the record's session material. Blob-backed pools
// write the blob before touching the row; a failed blob write leaves the row as it was.
func (c *CookieReconciler) ApplyCookieData(ctx context.Context, id int64, payload cookie.Payload) (*CookieResult, error) {
	res, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	policy, ok := c.pools.Get(res.Kind)
	if !ok {
		return nil, errutil.Validation(fmt.Sprintf("unknown resource kind %q", res.Kind))
	}

	session, err := cookie.Resolve(payload, policy.TokenCookie)
	if err != nil {
		return nil, err
	}

	ref := session.Token
	if policy.StoreBlob {
		data, err := cookie.Encode(payload)
		if err != nil {
			return nil, errutil.Validation("cookie payload cannot be encoded")
		}
		ref = blobstore.Key(res.Kind, res.ID)
		if err := c.blobs.Put(ctx, ref, data, "application/json"); err != nil {
			return nil, errutil.Storage("failed to store cookie blob", err)
		}
	}
	if ref == "" {
		return nil, errutil.Validation("payload does not carry a session token")
	}

	updated, err := c.repo.UpdateCookie(ctx, id, model.CookieUpdate{Ref: ref, ExpireDate: session.ExpireDate}, c.now())
	if err != nil {
		return nil, classify(fmt.Errorf("update cookie: %w", err), "record")
	}

	log.Info().
		Int64("resourceId", id).
		Str("kind", string(res.Kind)).
		Time("expireDate", session.ExpireDate).
		Bool("blob", policy.StoreBlob).
		Msg("cookie data applied")

	result := &CookieResult{ID: updated.ID, ExpireDate: *updated.ExpireDate, Reference: *updated.CookieRef}
	if policy.StoreBlob {
		result.URL = c.blobs.URL(ref)
	}
	return result, nil
}
