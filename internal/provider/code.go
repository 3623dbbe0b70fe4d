package provider

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	codePattern = regexp.MustCompile(`\b(\d{4,6})\b`)

	ErrCodeTimeout = errors.New("verification code not received within timeout")
)

// FindCode returns the first 4-6 digit code found in subject plus body of any message.
func FindCode(messages []Message) (string, bool) {
	for _, m := range messages {
		body := m.Text
		if body == "" {
			body = m.HTML
		}
		if match := codePattern.FindStringSubmatch(strings.ToLower(m.Subject + " " + body)); match != nil {
			return match[1], true
		}
	}
	return "", false
}

type FetchFunc func(ctx context.Context) ([]Message, error)

// WaitForCode polls fetch every interval until a code shows up or timeout elapses.
// Fetch errors are logged and retried on the next tick.
func WaitForCode(ctx context.Context, fetch FetchFunc, interval, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		messages, err := fetch(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("code poll: fetch failed, retrying")
		} else if code, ok := FindCode(messages); ok {
			return code, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrCodeTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
