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

type CreditStatus struct {
	ID        int64      `json:"id"`
	Credits   int        `json:"credits"`
	LastReset *time.Time `json:"lastReset"`
	NextReset *time.Time `json:"nextReset,omitempty"`
}

type CreditLedger struct {
	repo  repository.ResourceRepository
	pools *Pools
	now   func() time.Time
}

func NewCreditLedger(repo repository.ResourceRepository, pools *Pools) *CreditLedger {
	return &CreditLedger{repo: repo, pools: pools, now: utcNow}
}

// ShouldReset reports whether a full reset interval has passed since lastReset.
// A record that was never reset is due.
func (l *CreditLedger) ShouldReset(lastReset *time.Time) bool {
	if lastReset == nil {
		return true
	}
	return l.now().Sub(*lastReset) >= ResetInterval
}

// Deduct subtracts amount and returns the new balance. It refuses to go below zero.
func (l *CreditLedger) Deduct(ctx context.Context, id int64, amount int) (int, error) {
	if amount < 1 {
		return 0, errutil.Validation("amount must be at least 1")
	}

	credits, err := l.repo.Deduct(ctx, id, amount, l.now())
	if err != nil {
		return 0, classify(err, "record")
	}

	log.Debug().Int64("resourceId", id).Int("amount", amount).Int("credits", credits).Msg("credits deducted")
	return credits, nil
}

// Reset restores the record's kind-specific initial credits and re-anchors last_reset.
func (l *CreditLedger) Reset(ctx context.Context, id int64) (*model.Resource, error) {
	res, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	policy, err := l.policyFor(res.Kind)
	if err != nil {
		return nil, err
	}

	res, err = l.repo.ResetCredits(ctx, id, policy.InitialCredits, l.now())
	if err != nil {
		return nil, classify(err, "record")
	}

	log.Info().Int64("resourceId", id).Int("credits", res.Credits).Msg("credits reset")
	return res, nil
}

// ResetAllDue resets every record of a daily-reset kind whose last reset is at
// least ResetInterval old. Calling it repeatedly is harmless.
func (l *CreditLedger) ResetAllDue(ctx context.Context) (int64, error) {
	var total int64
	for _, policy := range l.pools.All() {
		if !policy.DailyReset {
			continue
		}
		count, err := l.resetDue(ctx, policy)
		if err != nil {
			return total, err
		}
		total += count
	}

	log.Info().Int64("count", total).Msg("due credits reset")
	return total, nil
}

// ResetDue resets the due records of one kind. Kinds without a daily reset
// are rejected.
func (l *CreditLedger) ResetDue(ctx context.Context, kind model.Kind) (int64, error) {
	policy, err := l.policyFor(kind)
	if err != nil {
		return 0, err
	}
	if !policy.DailyReset {
		return 0, errutil.Validation(fmt.Sprintf("kind %s has no daily credit reset", kind))
	}

	count, err := l.resetDue(ctx, policy)
	if err != nil {
		return 0, err
	}

	log.Info().Int64("count", count).Str("kind", string(kind)).Msg("due credits reset")
	return count, nil
}

func (l *CreditLedger) resetDue(ctx context.Context, policy PoolPolicy) (int64, error) {
	now := l.now()
	count, err := l.repo.ResetAllDue(ctx, policy.Kind, policy.InitialCredits, now, now.Add(-ResetInterval))
	if err != nil {
		return 0, classify(fmt.Errorf("reset %s credits: %w", policy.Kind, err), "record")
	}
	return count, nil
}

// FindAvailable scans kind in ascending id order, lazily resetting due
// records, and returns the first one with credits left.
func (l *CreditLedger) FindAvailable(ctx context.Context, kind model.Kind) (*model.Resource, error) {
	policy, err := l.policyFor(kind)
	if err != nil {
		return nil, err
	}

	resources, err := l.repo.FindAllByIDAsc(ctx, kind)
	if err != nil {
		return nil, classify(err, "record")
	}

	for i := range resources {
		res := &resources[i]
		if res.Status != model.StatusCreated {
			continue
		}
		if policy.DailyReset && l.ShouldReset(res.LastReset) {
			res, err = l.lazyReset(ctx, res, policy)
			if err != nil {
				return nil, err
			}
			if res == nil {
				continue
			}
		}
		if res.Credits > 0 {
			return res, nil
		}
	}

	return nil, errutil.PoolExhausted(fmt.Sprintf("no %s with credits available", kind))
}

// CheckCredits returns the balance, applying a lazy reset when one is due.
func (l *CreditLedger) CheckCredits(ctx context.Context, id int64) (*CreditStatus, error) {
	res, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	policy, err := l.policyFor(res.Kind)
	if err != nil {
		return nil, err
	}

	if policy.DailyReset && l.ShouldReset(res.LastReset) {
		res, err = l.lazyReset(ctx, res, policy)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, errutil.NotFound("record not found")
		}
	}

	status := &CreditStatus{ID: res.ID, Credits: res.Credits, LastReset: res.LastReset}
	if policy.DailyReset && res.LastReset != nil {
		next := res.LastReset.Add(ResetInterval)
		status.NextReset = &next
	}
	return status, nil
}

// lazyReset returns the current row, or nil if it disappeared meanwhile.
func (l *CreditLedger) lazyReset(ctx context.Context, res *model.Resource, policy PoolPolicy) (*model.Resource, error) {
	now := l.now()
	updated, err := l.repo.ResetCreditsIfDue(ctx, res.ID, policy.InitialCredits, now, now.Add(-ResetInterval))
	if err == nil {
		log.Info().Int64("resourceId", res.ID).Int("credits", updated.Credits).Msg("credits lazily reset")
		return updated, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, classify(err, "record")
	}

	// Someone else reset it first.
	current, err := l.repo.FindByID(ctx, res.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "record")
	}
	return current, nil
}

func (l *CreditLedger) policyFor(kind model.Kind) (PoolPolicy, error) {
	policy, ok := l.pools.Get(kind)
	if !ok {
		return PoolPolicy{}, errutil.Validation(fmt.Sprintf("unknown resource kind %q", kind))
	}
	return policy, nil
}
