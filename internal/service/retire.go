package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/blobstore"
	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/repository"
)

type ConsumeResult struct {
	ID               int64 `json:"id"`
	Retired          bool  `json:"retired"`
	CreditsRemaining *int  `json:"creditsRemaining,omitempty"`
}

type RetireService struct {
	db    *sqlx.DB
	repo  repository.ResourceRepository
	blobs blobstore.Store
	pools *Pools
	now   func() time.Time
}

func NewRetireService(db *sqlx.DB, repo repository.ResourceRepository, blobs blobstore.Store, pools *Pools) *RetireService {
	return &RetireService{db: db, repo: repo, blobs: blobs, pools: pools, now: utcNow}
}

// ConsumeOrRetire spends one credit. The last credit deletes the record and
// its cookie blob instead of leaving it at zero. Read and write share one
// transaction with the row locked where the store supports it. Only kinds
// whose spend policy retires records are accepted; a drained record is a
// conflict, never a deletion.
func (s *RetireService) ConsumeOrRetire(ctx context.Context, id int64) (*ConsumeResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("begin tx: %w", err), "record")
	}
	defer tx.Rollback()

	repo := s.repo.WithTx(tx)

	res, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	policy, ok := s.pools.Get(res.Kind)
	if !ok || policy.Spend != SpendRetire {
		return nil, errutil.Validation(fmt.Sprintf("records of kind %s are not retired on spend", res.Kind))
	}
	if res.Credits < 1 {
		return nil, errutil.Conflict("insufficient credits", repository.ErrInsufficientCredits)
	}

	if res.Credits == 1 {
		if _, err := repo.Delete(ctx, id); err != nil {
			return nil, classify(fmt.Errorf("retire record: %w", err), "record")
		}
		if err := tx.Commit(); err != nil {
			return nil, classify(fmt.Errorf("commit retire: %w", err), "record")
		}

		s.releaseBlob(ctx, res)
		log.Info().Int64("resourceId", id).Str("kind", string(res.Kind)).Msg("record retired on last credit")
		return &ConsumeResult{ID: id, Retired: true}, nil
	}

	credits, err := repo.Deduct(ctx, id, 1, s.now())
	if err != nil {
		return nil, classify(fmt.Errorf("consume credit: %w", err), "record")
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("commit consume: %w", err), "record")
	}

	return &ConsumeResult{ID: id, CreditsRemaining: &credits}, nil
}

// Delete removes the record and releases its cookie blob.
func (s *RetireService) Delete(ctx context.Context, id int64) (*model.Resource, error) {
	res, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	s.releaseBlob(ctx, res)
	log.Info().Int64("resourceId", id).Str("kind", string(res.Kind)).Msg("record deleted")
	return res, nil
}

// releaseBlob only logs failures: an orphaned blob is overwritten or ignored later.
func (s *RetireService) releaseBlob(ctx context.Context, res *model.Resource) {
	policy, ok := s.pools.Get(res.Kind)
	if !ok || !policy.StoreBlob || res.CookieRef == nil {
		return
	}
	key := blobstore.Key(res.Kind, res.ID)
	if err := s.blobs.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Int64("resourceId", res.ID).Str("key", key).Msg("failed to release cookie blob")
	}
}
