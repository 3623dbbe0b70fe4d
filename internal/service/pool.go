package service

import (
	"time"

	"github.com/openclaw/leasepool-server-go/internal/config"
	"github.com/openclaw/leasepool-server-go/internal/model"
)

const (
	DefaultCooldown = 5 * time.Minute
	ResetInterval   = 24 * time.Hour
)

type SpendPolicy string

const (
	SpendDeduct SpendPolicy = config.SpendDeduct
	SpendRetire SpendPolicy = config.SpendRetire
)

// PoolPolicy captures how one resource kind is leased, charged and refreshed.
type PoolPolicy struct {
	Kind           model.Kind
	InitialCredits int
	DailyReset     bool
	RequireCookie  bool
	Spend          SpendPolicy
	// TokenCookie names the cookie that carries the session token in a raw jar.
	TokenCookie string
	// StoreBlob keeps the full cookie payload in the blob store and references it by key.
	StoreBlob bool
}

type Pools struct {
	byKind map[model.Kind]PoolPolicy
	order  []model.Kind
}

func NewPools(policies ...PoolPolicy) *Pools {
	p := &Pools{byKind: make(map[model.Kind]PoolPolicy, len(policies))}
	for _, policy := range policies {
		if _, dup := p.byKind[policy.Kind]; !dup {
			p.order = append(p.order, policy.Kind)
		}
		p.byKind[policy.Kind] = policy
	}
	return p
}

func DefaultPools() *Pools {
	return NewPools(
		PoolPolicy{Kind: model.KindFelo, InitialCredits: 200, RequireCookie: true, Spend: SpendRetire},
		PoolPolicy{Kind: model.KindCapCut, InitialCredits: 10, RequireCookie: true, Spend: SpendRetire, TokenCookie: "sid_guard", StoreBlob: true},
		PoolPolicy{Kind: model.KindAPIKey, InitialCredits: 50, DailyReset: true, Spend: SpendDeduct},
	)
}

// PoolsFromConfig applies the configured spend policies to the default pools.
func PoolsFromConfig(cfg *config.Config) *Pools {
	spend := map[model.Kind]string{
		model.KindFelo:   cfg.FeloSpendPolicy,
		model.KindCapCut: cfg.CapCutSpendPolicy,
		model.KindAPIKey: cfg.APIKeySpendPolicy,
	}
	pools := DefaultPools()
	policies := make([]PoolPolicy, 0, len(pools.order))
	for _, policy := range pools.All() {
		if s := spend[policy.Kind]; s != "" {
			policy.Spend = SpendPolicy(s)
		}
		policies = append(policies, policy)
	}
	return NewPools(policies...)
}

func (p *Pools) Get(kind model.Kind) (PoolPolicy, bool) {
	policy, ok := p.byKind[kind]
	return policy, ok
}

func (p *Pools) All() []PoolPolicy {
	out := make([]PoolPolicy, 0, len(p.order))
	for _, kind := range p.order {
		out = append(out, p.byKind[kind])
	}
	return out
}

func utcNow() time.Time {
	return time.Now().UTC()
}
