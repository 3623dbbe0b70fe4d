package cookie

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
)

func TestParse(t *testing.T) {
	t.Run("bare array is a jar", func(t *testing.T) {
		p, err := Parse([]byte(`[{"name":"sid_guard","value":"abc","expires":1767225600}]`))
		require.NoError(t, err)

		jar, ok := p.(Jar)
		require.True(t, ok)
		require.Len(t, jar.Cookies, 1)
		assert.Equal(t, "sid_guard", jar.Cookies[0].Name)
		assert.Nil(t, jar.ExpireDate)
	})

	t.Run("object with cookies key is a jar", func(t *testing.T) {
		p, err := Parse([]byte(`{"cookies":[],"expire_date":"2026-01-01T00:00:00Z"}`))
		require.NoError(t, err)

		jar, ok := p.(Jar)
		require.True(t, ok)
		require.NotNil(t, jar.ExpireDate)
		assert.True(t, jar.ExpireDate.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("felo token fields are a token", func(t *testing.T) {
		p, err := Parse([]byte(`{"felo_user_token":"tok","expire_date":"2026-03-01 10:00:00"}`))
		require.NoError(t, err)

		tok, ok := p.(Token)
		require.True(t, ok)
		assert.Equal(t, "tok", tok.Token)
		require.NotNil(t, tok.ExpireDate)
		assert.Equal(t, 10, tok.ExpireDate.Hour())
	})

	t.Run("explicit type wins", func(t *testing.T) {
		p, err := Parse([]byte(`{"type":"token","token":"x","expireDate":"2026-03-01T10:00:00+02:00"}`))
		require.NoError(t, err)

		tok := p.(Token)
		assert.Equal(t, 8, tok.ExpireDate.Hour())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, body := range []string{``, `[1,2`, `{"type":"pigeon"}`, `{"foo":"bar"}`, `{"token":"x","expire_date":"tomorrow"}`} {
			_, err := Parse([]byte(body))
			assert.True(t, errutil.Is(err, errutil.CodeValidation), body)
		}
	})
}

func TestResolve(t *testing.T) {
	future := float64(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC).Unix())
	later := future + 3600
	session := float64(-1)

	t.Run("named cookie supplies token and expiry", func(t *testing.T) {
		jar := Jar{Cookies: []Cookie{
			{Name: "other", Value: "o", Expires: &later},
			{Name: "sid_guard", Value: "sg", ExpirationDate: &future},
		}}

		s, err := Resolve(jar, "sid_guard")
		require.NoError(t, err)
		assert.Equal(t, "sg", s.Token)
		assert.Equal(t, int64(future), s.ExpireDate.Unix())
	})

	t.Run("named cookie missing is a validation error", func(t *testing.T) {
		_, err := Resolve(Jar{Cookies: []Cookie{{Name: "x", Value: "y", Expires: &future}}}, "sid_guard")
		assert.True(t, errutil.Is(err, errutil.CodeValidation))
	})

	t.Run("latest expiry across jar", func(t *testing.T) {
		jar := Jar{Cookies: []Cookie{
			{Name: "a", Value: "1", Expires: &future},
			{Name: "b", Value: "2", Expires: &later},
			{Name: "c", Value: "3", Expires: &session},
		}}

		s, err := Resolve(jar, "")
		require.NoError(t, err)
		assert.Empty(t, s.Token)
		assert.Equal(t, int64(later), s.ExpireDate.Unix())
	})

	t.Run("session cookies only carry no expiry", func(t *testing.T) {
		_, err := Resolve(Jar{Cookies: []Cookie{{Name: "c", Value: "3", Expires: &session}}}, "")
		assert.True(t, errutil.Is(err, errutil.CodeValidation))
	})

	t.Run("override applies to jars", func(t *testing.T) {
		override := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
		s, err := Resolve(Jar{Cookies: []Cookie{{Name: "c", Value: "3"}}, ExpireDate: &override}, "")
		require.NoError(t, err)
		assert.True(t, s.ExpireDate.Equal(override))
	})

	t.Run("token without expiry is rejected", func(t *testing.T) {
		_, err := Resolve(Token{Token: "tok"}, "")
		assert.True(t, errutil.Is(err, errutil.CodeValidation))
	})
}

func TestEncode(t *testing.T) {
	exp := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(Token{Token: "tok", ExpireDate: &exp})
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "tok", decoded["token"])
	assert.Equal(t, "2026-06-01T12:00:00Z", decoded["expire_date"])
}
