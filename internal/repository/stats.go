package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/leasepool-server-go/internal/model"
)

type StatsRepository interface {
	GetKindStats(ctx context.Context, now, cooldownStart time.Time) ([]model.KindStats, error)
}

type statsRepo struct {
	db *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) StatsRepository {
	return &statsRepo{db: db}
}

func (r *statsRepo) GetKindStats(ctx context.Context, now, cooldownStart time.Time) ([]model.KindStats, error) {
	var stats []model.KindStats
	err := r.db.SelectContext(ctx, &stats, `
		SELECT
			kind,
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'created' THEN 1 ELSE 0 END) AS created,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			SUM(CASE WHEN cookie_ref IS NOT NULL AND expire_date > $1 THEN 1 ELSE 0 END) AS cookie_valid,
			SUM(CASE WHEN last_used_at >= $2 THEN 1 ELSE 0 END) AS cooling_down,
			SUM(CASE WHEN credits <= 0 THEN 1 ELSE 0 END) AS exhausted
		FROM resources
		GROUP BY kind
		ORDER BY kind
	`, now, cooldownStart)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
