package model

import (
	"time"
)

type Kind string

const (
	KindFelo   Kind = "felo"
	KindCapCut Kind = "capcut"
	KindAPIKey Kind = "api_key"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusFailed  Status = "failed"
)

// Resource is one leasable account or API key.
type Resource struct {
	ID         int64      `db:"id" json:"id"`
	Kind       Kind       `db:"kind" json:"kind"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Password   *string    `db:"password" json:"password,omitempty"`
	APIKey     *string    `db:"api_key" json:"apiKey,omitempty"`
	Name       *string    `db:"name" json:"name,omitempty"`
	Status     Status     `db:"status" json:"status"`
	Error      *string    `db:"error" json:"error,omitempty"`
	Credits    int        `db:"credits" json:"credits"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt"`
	LastReset  *time.Time `db:"last_reset" json:"lastReset"`
	CookieRef  *string    `db:"cookie_ref" json:"cookieRef"`
	ExpireDate *time.Time `db:"expire_date" json:"expireDate"`
	LoginAt    *time.Time `db:"login_at" json:"loginAt"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// CookieValid reports whether the record carries session material that has not expired at now.
func (r *Resource) CookieValid(now time.Time) bool {
	return r.CookieRef != nil && r.ExpireDate != nil && r.ExpireDate.After(now)
}

type CreateResourceParams struct {
	Kind      Kind
	Email     *string
	Password  *string
	APIKey    *string
	Name      *string
	Status    Status
	Error     *string
	Credits   int
	LoginAt   *time.Time
	CreatedAt time.Time
}

type CookieUpdate struct {
	Ref        string
	ExpireDate time.Time
}

type KindStats struct {
	Kind        Kind `db:"kind" json:"kind"`
	Total       int  `db:"total" json:"total"`
	Created     int  `db:"created" json:"created"`
	Failed      int  `db:"failed" json:"failed"`
	CookieValid int  `db:"cookie_valid" json:"cookieValid"`
	CoolingDown int  `db:"cooling_down" json:"coolingDown"`
	Exhausted   int  `db:"exhausted" json:"exhausted"`
}
