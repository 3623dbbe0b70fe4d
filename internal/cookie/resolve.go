package cookie

import (
	"fmt"
	"time"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
)

// Session is the token and absolute expiry derived from a payload.
type Session struct {
	Token      string
	ExpireDate time.Time
}

// Resolve derives the session from a payload. When tokenCookie is set, a jar
// must contain that cookie and it supplies both token and expiry; otherwise the
// latest expiry among all cookies is used. An explicit expire_date always wins.
func Resolve(p Payload, tokenCookie string) (Session, error) {
	switch v := p.(type) {
	case Token:
		if v.Token == "" {
			return Session{}, errutil.Validation("token is required")
		}
		if v.ExpireDate == nil {
			return Session{}, errutil.Validation("expire_date is required")
		}
		return Session{Token: v.Token, ExpireDate: *v.ExpireDate}, nil

	case Jar:
		if len(v.Cookies) == 0 {
			return Session{}, errutil.Validation("cookie array is empty")
		}
		if tokenCookie != "" {
			return resolveNamed(v, tokenCookie)
		}
		return resolveLatest(v)

	default:
		return Session{}, errutil.Validation(fmt.Sprintf("unsupported cookie payload %T", p))
	}
}

func resolveNamed(jar Jar, name string) (Session, error) {
	for _, c := range jar.Cookies {
		if c.Name != name {
			continue
		}
		if c.Value == "" {
			return Session{}, errutil.Validation(fmt.Sprintf("cookie %q has no value", name))
		}
		if jar.ExpireDate != nil {
			return Session{Token: c.Value, ExpireDate: *jar.ExpireDate}, nil
		}
		exp, ok := c.Expiry()
		if !ok {
			return Session{}, errutil.Validation(fmt.Sprintf("cookie %q has no expiry", name))
		}
		return Session{Token: c.Value, ExpireDate: exp}, nil
	}
	return Session{}, errutil.Validation(fmt.Sprintf("cookie %q not found in payload", name))
}

func resolveLatest(jar Jar) (Session, error) {
	if jar.ExpireDate != nil {
		return Session{ExpireDate: *jar.ExpireDate}, nil
	}
	var latest time.Time
	for _, c := range jar.Cookies {
		if exp, ok := c.Expiry(); ok && exp.After(latest) {
			latest = exp
		}
	}
	if latest.IsZero() {
		return Session{}, errutil.Validation("no cookie in payload carries an expiry")
	}
	return Session{ExpireDate: latest}, nil
}
