package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://v1.boomlify.com/api/v1"

type Mailbox struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	Domain         string    `json:"domain,omitempty"`
	TimeTier       string    `json:"time_tier,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	IsCustomDomain bool      `json:"is_custom_domain,omitempty"`
}

type Message struct {
	ID        string `json:"id,omitempty"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type createMailboxResponse struct {
	Success bool    `json:"success"`
	Email   Mailbox `json:"email"`
}

type messagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("boomlify api error: %d - %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateMailbox provisions a temporary mailbox billed to apiKey.
func (c *Client) CreateMailbox(ctx context.Context, apiKey string) (*Mailbox, error) {
	var resp createMailboxResponse
	if err := c.do(ctx, http.MethodPost, "/emails/create", apiKey, &resp); err != nil {
		return nil, fmt.Errorf("create mailbox: %w", err)
	}
	if resp.Email.ID == "" {
		return nil, fmt.Errorf("create mailbox: response has no email id")
	}
	return &resp.Email, nil
}

func (c *Client) FetchMessages(ctx context.Context, apiKey, mailboxID string) ([]Message, error) {
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, "/emails/"+url.PathEscape(mailboxID)+"/messages", apiKey, &resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", apiKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
