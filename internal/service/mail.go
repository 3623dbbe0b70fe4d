package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/provider"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/util"
)

type MailProvider interface {
	CreateMailbox(ctx context.Context, apiKey string) (*provider.Mailbox, error)
	FetchMessages(ctx context.Context, apiKey, mailboxID string) ([]provider.Message, error)
}

type IssuedMailbox struct {
	provider.Mailbox
	APIKeyID         int64 `json:"api_key_id"`
	CreditsRemaining int   `json:"credits_remaining"`
}

type MailService struct {
	repo         repository.ResourceRepository
	ledger       *CreditLedger
	provider     MailProvider
	pollInterval time.Duration
	maxTimeout   time.Duration
}

func NewMailService(
	repo repository.ResourceRepository,
	ledger *CreditLedger,
	mailProvider MailProvider,
	pollInterval, maxTimeout time.Duration,
) *MailService {
	return &MailService{
		repo:         repo,
		ledger:       ledger,
		provider:     mailProvider,
		pollInterval: pollInterval,
		maxTimeout:   maxTimeout,
	}
}

// IssueMailbox picks the first API key with credits, creates a mailbox with
// it and charges one credit. Nothing is charged when the provider fails.
func (s *MailService) IssueMailbox(ctx context.Context) (*IssuedMailbox, error) {
	key, err := s.ledger.FindAvailable(ctx, model.KindAPIKey)
	if err != nil {
		return nil, err
	}

	mailbox, err := s.provider.CreateMailbox(ctx, *key.APIKey)
	if err != nil {
		log.Error().Err(err).Int64("apiKeyId", key.ID).Msg("mail: provider failed to create mailbox")
		return nil, errutil.Upstream("failed to create temp mail", err)
	}

	credits, err := s.ledger.Deduct(ctx, key.ID, 1)
	if errutil.Is(err, errutil.CodeConflict) {
		log.Warn().Int64("apiKeyId", key.ID).Msg("mail: key drained concurrently, mailbox issued without charge")
		credits = 0
	} else if err != nil {
		return nil, fmt.Errorf("charge api key: %w", err)
	}

	log.Info().
		Int64("apiKeyId", key.ID).
		Str("apiKey", util.MaskSecret(*key.APIKey)).
		Str("mailboxId", mailbox.ID).
		Int("creditsRemaining", credits).
		Msg("temp mail issued")

	return &IssuedMailbox{Mailbox: *mailbox, APIKeyID: key.ID, CreditsRemaining: credits}, nil
}

// FetchMessages reads a mailbox with the given key, or the first available one.
func (s *MailService) FetchMessages(ctx context.Context, mailboxID string, keyID *int64) ([]provider.Message, error) {
	apiKey, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	messages, err := s.provider.FetchMessages(ctx, apiKey, mailboxID)
	if err != nil {
		return nil, errutil.Upstream("failed to fetch messages", err)
	}
	if messages == nil {
		messages = []provider.Message{}
	}
	return messages, nil
}

// WaitForCode polls the mailbox until a 4-6 digit code arrives or timeout elapses.
func (s *MailService) WaitForCode(ctx context.Context, mailboxID string, keyID *int64, timeout time.Duration) (string, error) {
	if timeout <= 0 || timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}

	apiKey, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}

	fetch := func(ctx context.Context) ([]provider.Message, error) {
		return s.provider.FetchMessages(ctx, apiKey, mailboxID)
	}

	code, err := provider.WaitForCode(ctx, fetch, s.pollInterval, timeout)
	if errors.Is(err, provider.ErrCodeTimeout) {
		return "", errutil.Upstream("verification code not received within timeout", err)
	}
	if err != nil {
		return "", errutil.Upstream("failed to poll mailbox", err)
	}

	log.Info().Str("mailboxId", mailboxID).Str("code", util.MaskSecret(code)).Msg("verification code received")
	return code, nil
}

func (s *MailService) resolveKey(ctx context.Context, keyID *int64) (string, error) {
	if keyID == nil {
		key, err := s.ledger.FindAvailable(ctx, model.KindAPIKey)
		if err != nil {
			return "", err
		}
		return *key.APIKey, nil
	}

	key, err := s.repo.FindByID(ctx, *keyID)
	if err != nil {
		return "", classify(err, "api key")
	}
	if key.Kind != model.KindAPIKey || key.APIKey == nil {
		return "", errutil.NotFound("api key not found")
	}
	return *key.APIKey, nil
}
