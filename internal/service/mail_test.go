package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/provider"
)

type fakeMailProvider struct {
	mu        sync.Mutex
	createErr error
	messages  [][]provider.Message
	usedKeys  []string
}

func (f *fakeMailProvider) CreateMailbox(ctx context.Context, apiKey string) (*provider.Mailbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedKeys = append(f.usedKeys, apiKey)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &provider.Mailbox{ID: "mb_1", Address: "temp@boomlify.com"}, nil
}

// FetchMessages replays the queued responses, repeating the last one.
func (f *fakeMailProvider) FetchMessages(ctx context.Context, apiKey, mailboxID string) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedKeys = append(f.usedKeys, apiKey)
	if len(f.messages) == 0 {
		return nil, nil
	}
	next := f.messages[0]
	if len(f.messages) > 1 {
		f.messages = f.messages[1:]
	}
	return next, nil
}

func newMailService(env *testEnv, p *fakeMailProvider) *MailService {
	return NewMailService(env.repo, env.ledger, p, 5*time.Millisecond, 200*time.Millisecond)
}

func TestMailService_IssueMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("charges one credit on the first key with credits", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 0)
		key := env.create(t, model.KindAPIKey, 3)
		p := &fakeMailProvider{}

		issued, err := newMailService(env, p).IssueMailbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, "mb_1", issued.ID)
		assert.Equal(t, key.ID, issued.APIKeyID)
		assert.Equal(t, 2, issued.CreditsRemaining)
		assert.Equal(t, []string{*key.APIKey}, p.usedKeys)
		assert.Equal(t, 2, env.get(t, key.ID).Credits)
	})

	t.Run("provider failure charges nothing", func(t *testing.T) {
		env := newTestEnv(t)
		key := env.create(t, model.KindAPIKey, 3)
		p := &fakeMailProvider{createErr: errors.New("boom")}

		_, err := newMailService(env, p).IssueMailbox(ctx)
		assert.True(t, errutil.Is(err, errutil.CodeUpstream))
		assert.Equal(t, 3, env.get(t, key.ID).Credits)
	})

	t.Run("no usable key", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 0)

		_, err := newMailService(env, &fakeMailProvider{}).IssueMailbox(ctx)
		assert.True(t, errutil.Is(err, errutil.CodePoolExhausted))
	})
}

func TestMailService_FetchMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the requested key", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 5)
		chosen := env.create(t, model.KindAPIKey, 5)
		p := &fakeMailProvider{messages: [][]provider.Message{{{Subject: "hi"}}}}

		messages, err := newMailService(env, p).FetchMessages(ctx, "mb_1", &chosen.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, []string{*chosen.APIKey}, p.usedKeys)
		assert.Equal(t, 5, env.get(t, chosen.ID).Credits)
	})

	t.Run("empty inbox is an empty list", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 5)

		messages, err := newMailService(env, &fakeMailProvider{}).FetchMessages(ctx, "mb_1", nil)
		require.NoError(t, err)
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})

	t.Run("key id of another kind is not found", func(t *testing.T) {
		env := newTestEnv(t)
		felo := env.create(t, model.KindFelo, 200)

		_, err := newMailService(env, &fakeMailProvider{}).FetchMessages(ctx, "mb_1", &felo.ID)
		assert.True(t, errutil.Is(err, errutil.CodeNotFound))
	})
}

func TestMailService_WaitForCode(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the code once it arrives", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 5)
		p := &fakeMailProvider{messages: [][]provider.Message{
			{},
			{{Subject: "Welcome"}},
			{{Subject: "Verify", Text: "Your code is 739201"}},
		}}

		code, err := newMailService(env, p).WaitForCode(ctx, "mb_1", nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "739201", code)
	})

	t.Run("times out as an upstream error", func(t *testing.T) {
		env := newTestEnv(t)
		env.create(t, model.KindAPIKey, 5)

		_, err := newMailService(env, &fakeMailProvider{}).WaitForCode(ctx, "mb_1", nil, 30*time.Millisecond)
		assert.True(t, errutil.Is(err, errutil.CodeUpstream))
		assert.ErrorIs(t, err, provider.ErrCodeTimeout)
	})
}
