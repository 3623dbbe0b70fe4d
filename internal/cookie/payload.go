// Package cookie models the session material submitted for a record: either a
// raw browser cookie jar or a token that was already extracted by the caller.
package cookie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
)

type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
	// Expires is the puppeteer/CDP field in unix seconds; -1 marks a session cookie.
	Expires *float64 `json:"expires,omitempty"`
	// ExpirationDate is the browser-extension export field in unix seconds.
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
}

// Expiry returns the absolute expiry of the cookie, if it has one.
func (c Cookie) Expiry() (time.Time, bool) {
	for _, v := range []*float64{c.Expires, c.ExpirationDate} {
		if v != nil && *v > 0 {
			return fromUnixSeconds(*v), true
		}
	}
	return time.Time{}, false
}

// Payload is implemented by Jar and Token.
type Payload interface {
	isPayload()
}

// Jar is a raw cookie array with an optional expiry override.
type Jar struct {
	Cookies    []Cookie
	ExpireDate *time.Time
}

// Token is a pre-extracted session token with its expiry.
type Token struct {
	Token      string
	ExpireDate *time.Time
}

func (Jar) isPayload()   {}
func (Token) isPayload() {}

type envelope struct {
	Type          string   `json:"type"`
	Cookies       []Cookie `json:"cookies"`
	Token         string   `json:"token"`
	FeloUserToken string   `json:"felo_user_token"`
	ExpireDate    string   `json:"expire_date"`
	ExpireDateAlt string   `json:"expireDate"`
}

// Parse decodes a request body into a Payload. A bare JSON array is a Jar; an
// object is a Jar when it has "cookies" (or type "cookies") and a Token when it
// has "token"/"felo_user_token" (or type "token").
func Parse(data []byte) (Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errutil.Validation("cookie payload is empty")
	}

	if data[0] == '[' {
		var cookies []Cookie
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, errutil.Validation("cookie array is malformed")
		}
		return Jar{Cookies: cookies}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errutil.Validation("cookie payload is malformed")
	}
	var keys map[string]json.RawMessage
	_ = json.Unmarshal(data, &keys)
	_, hasCookies := keys["cookies"]
	hasToken := env.Token != "" || env.FeloUserToken != ""

	expire, err := parseExpireDate(firstNonEmpty(env.ExpireDate, env.ExpireDateAlt))
	if err != nil {
		return nil, err
	}

	switch {
	case env.Type == "cookies" || (env.Type == "" && hasCookies):
		return Jar{Cookies: env.Cookies, ExpireDate: expire}, nil
	case env.Type == "token" || (env.Type == "" && hasToken):
		return Token{Token: firstNonEmpty(env.Token, env.FeloUserToken), ExpireDate: expire}, nil
	case env.Type != "":
		return nil, errutil.Validation(fmt.Sprintf("unknown cookie payload type %q", env.Type))
	default:
		return nil, errutil.Validation("cookie payload must contain cookies or a token")
	}
}

// Encode renders the payload as it is stored in the blob store.
func Encode(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case Jar:
		return json.Marshal(v.Cookies)
	case Token:
		out := map[string]any{"token": v.Token}
		if v.ExpireDate != nil {
			out["expire_date"] = v.ExpireDate.Format(time.RFC3339Nano)
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("unsupported cookie payload %T", p)
	}
}

func parseExpireDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = normalize(t)
			return &t, nil
		}
	}
	return nil, errutil.Validation(fmt.Sprintf("expire_date %q is not a valid timestamp", s))
}

func fromUnixSeconds(v float64) time.Time {
	sec := int64(v)
	nsec := int64((v - float64(sec)) * float64(time.Second))
	return normalize(time.Unix(sec, nsec))
}

// normalize keeps expiries at microsecond precision so they echo unchanged from postgres.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
