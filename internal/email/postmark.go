// Package email sends failure alerts through the Postmark API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hostvault/internal/backup"
)

const (
	postmarkURL = "https://api.postmarkapp.com/email"
	sendTimeout = 10 * time.Second
)

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      postmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
}

// Send delivers a plain-text message.
func (c *Client) Send(ctx context.Context, to, subject, text string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	body, err := json.Marshal(postmarkEmail{
		From:     c.fromEmail,
		To:       to,
		Subject:  subject,
		TextBody: text,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}

// Alerter mails run and restore failures to one address.
type Alerter struct {
	client  *Client
	to      string
	baseURL string
	logger  *slog.Logger
}

// NewAlerter creates an alerter. baseURL, when set, is used to link to the
// failed run in the API.
func NewAlerter(c *Client, to, baseURL string, logger *slog.Logger) *Alerter {
	return &Alerter{client: c, to: to, baseURL: baseURL, logger: logger.With("component", "email")}
}

// HandleEvent sends an alert for failure events and ignores the rest. It
// has the backup.EventCallback signature.
func (a *Alerter) HandleEvent(e backup.Event) {
	var subject, text string
	switch e.Type {
	case backup.EventRunFailed:
		subject = fmt.Sprintf("hostvault: backup of job %d failed", e.JobID)
		text = fmt.Sprintf("Run %d of job %d on host %d failed.\n\n%s\n", e.RunID, e.JobID, e.HostID, e.Error)
	case backup.EventRestoreFailed:
		subject = fmt.Sprintf("hostvault: restore of run %d failed", e.RunID)
		text = fmt.Sprintf("Restoring run %d of job %d to host %d failed.\n\n%s\n", e.RunID, e.JobID, e.HostID, e.Error)
	default:
		return
	}
	if a.baseURL != "" && e.RunID != 0 {
		text += fmt.Sprintf("\n%s/api/runs/%d\n", a.baseURL, e.RunID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := a.client.Send(ctx, a.to, subject, text); err != nil {
		a.logger.Error("failed to send alert", "type", e.Type, "run_id", e.RunID, "error", err)
		return
	}
	a.logger.Info("alert sent", "type", e.Type, "run_id", e.RunID, "to", a.to)
}
