package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/leasepool-server-go/internal/model"
)

var epoch = time.Unix(0, 0).UTC()

// LeaseQuery is the eligibility predicate for claiming a record.
type LeaseQuery struct {
	Kind          model.Kind
	RequireCookie bool
	Now           time.Time
	// CooldownStart: records used at or after this instant are still cooling down.
	CooldownStart time.Time
}

type ResourceRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Resource, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Resource, error)
	FindAll(ctx context.Context, kind model.Kind, limit, offset int) ([]model.Resource, error)
	FindAllByIDAsc(ctx context.Context, kind model.Kind) ([]model.Resource, error)
	FindWithoutCookie(ctx context.Context, kind model.Kind, now time.Time, limit int) ([]model.Resource, error)
	FindLeaseCandidate(ctx context.Context, q LeaseQuery) (*model.Resource, error)
	Claim(ctx context.Context, id int64, q LeaseQuery) (*model.Resource, error)
	Create(ctx context.Context, params model.CreateResourceParams) (*model.Resource, error)
	Delete(ctx context.Context, id int64) (*model.Resource, error)
	Deduct(ctx context.Context, id int64, amount int, now time.Time) (int, error)
	ResetCredits(ctx context.Context, id int64, credits int, now time.Time) (*model.Resource, error)
	ResetCreditsIfDue(ctx context.Context, id int64, credits int, now, dueBefore time.Time) (*model.Resource, error)
	ResetAllDue(ctx context.Context, kind model.Kind, credits int, now, dueBefore time.Time) (int64, error)
	UpdateCookie(ctx context.Context, id int64, update model.CookieUpdate, now time.Time) (*model.Resource, error)
	Count(ctx context.Context, kind model.Kind) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ResourceRepository
}

type resourceRepo struct {
	db         sqlxDB
	lockSuffix string
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewResourceRepository(db *sqlx.DB) ResourceRepository {
	repo := &resourceRepo{db: db}
	if db.DriverName() == "postgres" {
		repo.lockSuffix = " FOR UPDATE"
	}
	return repo
}

func (r *resourceRepo) WithTx(tx *sqlx.Tx) ResourceRepository {
	return &resourceRepo{db: tx, lockSuffix: r.lockSuffix}
}

func (r *resourceRepo) FindByID(ctx context.Context, id int64) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `
		SELECT * FROM resources WHERE id = $1
	`, id)
	return HandleNotFound(&res, err)
}

func (r *resourceRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `SELECT * FROM resources WHERE id = $1`+r.lockSuffix, id)
	return HandleNotFound(&res, err)
}

func (r *resourceRepo) FindAll(ctx context.Context, kind model.Kind, limit, offset int) ([]model.Resource, error) {
	var resources []model.Resource
	err := r.db.SelectContext(ctx, &resources, `
		SELECT * FROM resources
		WHERE kind = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, string(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	return resources, nil
}

func (r *resourceRepo) FindAllByIDAsc(ctx context.Context, kind model.Kind) ([]model.Resource, error) {
	var resources []model.Resource
	err := r.db.SelectContext(ctx, &resources, `
		SELECT * FROM resources
		WHERE kind = $1
		ORDER BY id ASC
	`, string(kind))
	if err != nil {
		return nil, err
	}
	return resources, nil
}

func (r *resourceRepo) FindWithoutCookie(ctx context.Context, kind model.Kind, now time.Time, limit int) ([]model.Resource, error) {
	var resources []model.Resource
	err := r.db.SelectContext(ctx, &resources, `
		SELECT * FROM resources
		WHERE kind = $1
			AND (cookie_ref IS NULL OR expire_date IS NULL OR expire_date < $2)
		ORDER BY id DESC
		LIMIT $3
	`, string(kind), now, limit)
	if err != nil {
		return nil, err
	}
	return resources, nil
}

func (r *resourceRepo) FindLeaseCandidate(ctx context.Context, q LeaseQuery) (*model.Resource, error) {
	var a args
	query := `SELECT * FROM resources WHERE ` + leaseEligible(&a, q) + `
		ORDER BY COALESCE(last_used_at, ` + a.add(epoch) + `) ASC, id DESC
		LIMIT 1`

	var res model.Resource
	err := r.db.GetContext(ctx, &res, query, a.values...)
	return HandleNotFound(&res, err)
}

// Claim stamps last_used_at only if the record still satisfies the lease
// predicate, so two callers racing on the same candidate cannot both win.
func (r *resourceRepo) Claim(ctx context.Context, id int64, q LeaseQuery) (*model.Resource, error) {
	var a args
	query := `UPDATE resources SET
			last_used_at = ` + a.add(q.Now) + `,
			updated_at = ` + a.add(q.Now) + `
		WHERE id = ` + a.add(id) + ` AND ` + leaseEligible(&a, q) + `
		RETURNING *`

	var res model.Resource
	err := r.db.GetContext(ctx, &res, query, a.values...)
	return HandleNotFound(&res, err)
}

func leaseEligible(a *args, q LeaseQuery) string {
	cond := `kind = ` + a.add(string(q.Kind)) + `
			AND status = 'created'
			AND credits > 0
			AND (last_used_at IS NULL OR last_used_at < ` + a.add(q.CooldownStart) + `)`
	if q.RequireCookie {
		cond += `
			AND cookie_ref IS NOT NULL
			AND expire_date IS NOT NULL
			AND expire_date > ` + a.add(q.Now)
	}
	return cond
}

func (r *resourceRepo) Create(ctx context.Context, params model.CreateResourceParams) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `
		INSERT INTO resources (kind, email, password, api_key, name, status, error, credits, login_at, last_reset, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, string(params.Kind), params.Email, params.Password, params.APIKey, params.Name,
		string(params.Status), params.Error, params.Credits, params.LoginAt,
		params.CreatedAt, params.CreatedAt, params.CreatedAt)
	if err != nil {
		return nil, handleWriteError(err)
	}
	return &res, nil
}

func (r *resourceRepo) Delete(ctx context.Context, id int64) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `DELETE FROM resources WHERE id = $1 RETURNING *`, id)
	return HandleNotFound(&res, err)
}

// Deduct never takes credits below zero: it returns ErrInsufficientCredits
// when the balance is smaller than amount.
func (r *resourceRepo) Deduct(ctx context.Context, id int64, amount int, now time.Time) (int, error) {
	var credits int
	err := r.db.GetContext(ctx, &credits, `
		UPDATE resources SET
			credits = credits - $1,
			updated_at = $2
		WHERE id = $3 AND credits >= $4
		RETURNING credits
	`, amount, now, id, amount)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return 0, findErr
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}
	return credits, nil
}

func (r *resourceRepo) ResetCredits(ctx context.Context, id int64, credits int, now time.Time) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `
		UPDATE resources SET
			credits = $1,
			last_reset = $2,
			updated_at = $3
		WHERE id = $4
		RETURNING *
	`, credits, now, now, id)
	return HandleNotFound(&res, err)
}

// ResetCreditsIfDue returns ErrNotFound when the record is missing or was
// reset after dueBefore.
func (r *resourceRepo) ResetCreditsIfDue(ctx context.Context, id int64, credits int, now, dueBefore time.Time) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `
		UPDATE resources SET
			credits = $1,
			last_reset = $2,
			updated_at = $3
		WHERE id = $4 AND (last_reset IS NULL OR last_reset <= $5)
		RETURNING *
	`, credits, now, now, id, dueBefore)
	return HandleNotFound(&res, err)
}

func (r *resourceRepo) ResetAllDue(ctx context.Context, kind model.Kind, credits int, now, dueBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE resources SET
			credits = $1,
			last_reset = $2,
			updated_at = $3
		WHERE kind = $4 AND (last_reset IS NULL OR last_reset <= $5)
	`, credits, now, now, string(kind), dueBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *resourceRepo) UpdateCookie(ctx context.Context, id int64, update model.CookieUpdate, now time.Time) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `
		UPDATE resources SET
			cookie_ref = $1,
			expire_date = $2,
			updated_at = $3
		WHERE id = $4
		RETURNING *
	`, update.Ref, update.ExpireDate, now, id)
	return HandleNotFound(&res, err)
}

func (r *resourceRepo) Count(ctx context.Context, kind model.Kind) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM resources WHERE kind = $1`, string(kind))
	return count, err
}
