package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/util"
)

type CreateResourceParams struct {
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	APIKey    string     `json:"api_key"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Error     string     `json:"error"`
	Credits   *int       `json:"credits"`
	LoginAt   *time.Time `json:"loginAt"`
	CreatedAt *time.Time `json:"createdAt"`
}

type SpendResult struct {
	ID               int64       `json:"id"`
	Policy           SpendPolicy `json:"policy"`
	Retired          bool        `json:"retired"`
	CreditsRemaining *int        `json:"creditsRemaining,omitempty"`
}

type ResourceService struct {
	repo         repository.ResourceRepository
	statsRepo    repository.StatsRepository
	pools        *Pools
	ledger       *CreditLedger
	retire       *RetireService
	withoutLimit int
	cooldown     time.Duration
	now          func() time.Time
}

func NewResourceService(
	repo repository.ResourceRepository,
	statsRepo repository.StatsRepository,
	pools *Pools,
	ledger *CreditLedger,
	retire *RetireService,
	withoutCookieLimit int,
	cooldown time.Duration,
) *ResourceService {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &ResourceService{
		repo:         repo,
		statsRepo:    statsRepo,
		pools:        pools,
		ledger:       ledger,
		retire:       retire,
		withoutLimit: withoutCookieLimit,
		cooldown:     cooldown,
		now:          utcNow,
	}
}

func (s *ResourceService) Pools() *Pools {
	return s.pools
}

func (s *ResourceService) Create(ctx context.Context, kind model.Kind, params CreateResourceParams) (*model.Resource, error) {
	policy, ok := s.pools.Get(kind)
	if !ok {
		return nil, errutil.Validation(fmt.Sprintf("unknown resource kind %q", kind))
	}

	create := model.CreateResourceParams{
		Kind:      kind,
		Status:    model.StatusCreated,
		Credits:   policy.InitialCredits,
		LoginAt:   params.LoginAt,
		CreatedAt: s.now(),
	}

	if kind == model.KindAPIKey {
		apiKey := strings.TrimSpace(params.APIKey)
		if apiKey == "" {
			return nil, errutil.Validation("api_key is required")
		}
		create.APIKey = &apiKey
	} else {
		email := strings.TrimSpace(params.Email)
		if email == "" {
			return nil, errutil.Validation("email is required")
		}
		create.Email = &email
		create.Password = optional(params.Password)
	}
	create.Name = optional(params.Name)
	create.Error = optional(params.Error)

	switch model.Status(params.Status) {
	case "":
	case model.StatusCreated, model.StatusFailed:
		create.Status = model.Status(params.Status)
	default:
		return nil, errutil.Validation("status must be created or failed")
	}
	if params.Credits != nil {
		if *params.Credits < 0 {
			return nil, errutil.Validation("credits must not be negative")
		}
		create.Credits = *params.Credits
	}
	if params.CreatedAt != nil {
		create.CreatedAt = params.CreatedAt.UTC()
	}

	res, err := s.repo.Create(ctx, create)
	if err != nil {
		return nil, classify(fmt.Errorf("create %s: %w", kind, err), string(kind))
	}

	event := log.Info().Int64("resourceId", res.ID).Str("kind", string(kind)).Str("status", string(res.Status))
	if res.APIKey != nil {
		event = event.Str("apiKey", util.MaskSecret(*res.APIKey))
	}
	event.Msg("record created")

	return res, nil
}

func (s *ResourceService) Get(ctx context.Context, id int64) (*model.Resource, error) {
	res, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}
	return res, nil
}

// List returns one page of kind, newest first, with the total count of kind.
func (s *ResourceService) List(ctx context.Context, kind model.Kind, limit, offset int) ([]model.Resource, int, error) {
	resources, err := s.repo.FindAll(ctx, kind, limit, offset)
	if err != nil {
		return nil, 0, classify(err, "record")
	}
	total, err := s.repo.Count(ctx, kind)
	if err != nil {
		return nil, 0, classify(err, "record")
	}
	if resources == nil {
		resources = []model.Resource{}
	}
	return resources, total, nil
}

// ListWithoutCookie returns records that still need session material.
func (s *ResourceService) ListWithoutCookie(ctx context.Context, kind model.Kind, limit int) ([]model.Resource, error) {
	if limit <= 0 {
		limit = s.withoutLimit
	}
	resources, err := s.repo.FindWithoutCookie(ctx, kind, s.now(), limit)
	if err != nil {
		return nil, classify(err, "record")
	}
	if resources == nil {
		resources = []model.Resource{}
	}
	return resources, nil
}

// Spend charges one use according to the pool's spend policy.
func (s *ResourceService) Spend(ctx context.Context, id int64) (*SpendResult, error) {
	res, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, "record")
	}

	policy, ok := s.pools.Get(res.Kind)
	if !ok {
		return nil, errutil.Validation(fmt.Sprintf("unknown resource kind %q", res.Kind))
	}

	if policy.Spend == SpendRetire {
		consumed, err := s.retire.ConsumeOrRetire(ctx, id)
		if err != nil {
			return nil, err
		}
		return &SpendResult{ID: id, Policy: policy.Spend, Retired: consumed.Retired, CreditsRemaining: consumed.CreditsRemaining}, nil
	}

	credits, err := s.ledger.Deduct(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	return &SpendResult{ID: id, Policy: policy.Spend, CreditsRemaining: &credits}, nil
}

func (s *ResourceService) Stats(ctx context.Context) ([]model.KindStats, error) {
	now := s.now()
	stats, err := s.statsRepo.GetKindStats(ctx, now, now.Add(-s.cooldown))
	if err != nil {
		return nil, classify(fmt.Errorf("get stats: %w", err), "stats")
	}
	if stats == nil {
		stats = []model.KindStats{}
	}
	return stats, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
