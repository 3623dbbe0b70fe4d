package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/repository"
)

// leaseAttempts bounds how often LeaseOne retries after losing a claim race.
const leaseAttempts = 3

type LeaseService struct {
	repo     repository.ResourceRepository
	cooldown time.Duration
	now      func() time.Time
}

func NewLeaseService(repo repository.ResourceRepository, cooldown time.Duration) *LeaseService {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &LeaseService{repo: repo, cooldown: cooldown, now: utcNow}
}

// LeaseOne claims the least recently used eligible record of kind. The claim
// is a conditional update, so a record is handed out at most once per cooldown.
func (s *LeaseService) LeaseOne(ctx context.Context, kind model.Kind, requireCookie bool) (*model.Resource, error) {
	for attempt := 1; attempt <= leaseAttempts; attempt++ {
		now := s.now()
		q := repository.LeaseQuery{
			Kind:          kind,
			RequireCookie: requireCookie,
			Now:           now,
			CooldownStart: now.Add(-s.cooldown),
		}

		candidate, err := s.repo.FindLeaseCandidate(ctx, q)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errutil.PoolExhausted(fmt.Sprintf("no %s record available", kind))
		}
		if err != nil {
			return nil, classify(fmt.Errorf("find lease candidate: %w", err), "record")
		}

		claimed, err := s.repo.Claim(ctx, candidate.ID, q)
		if err == nil {
			log.Info().
				Int64("resourceId", claimed.ID).
				Str("kind", string(kind)).
				Bool("requireCookie", requireCookie).
				Msg("record leased")
			return claimed, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(fmt.Errorf("claim record: %w", err), "record")
		}

		log.Debug().
			Int64("resourceId", candidate.ID).
			Int("attempt", attempt).
			Msg("lease claim lost race, retrying")
	}

	return nil, errutil.PoolExhausted(fmt.Sprintf("no %s record available after %d attempts", kind, leaseAttempts))
}
