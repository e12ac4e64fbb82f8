// Package discord sends incident alerts to a Discord incoming
// webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "incident-ledger"
)

// Config holds discord sender configuration.
type Config struct {
	WebhookURL string
	Username   string  // display name, defaults to "incident-ledger"
	RateLimit  float64 // requests per second, 0 disables limiting
	Timeout    time.Duration
}

// Sender posts a single JSON payload per alert to the configured
// webhook, fire-and-forget.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a discord sender. Returns an error if the webhook
// URL is missing.
func NewSender(config Config) (*Sender, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("discord sender: webhook URL is required")
	}
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	slog.Info("discord sender configured", "rate_limit", config.RateLimit)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}, nil
}

// Name returns the channel name used in policy tables.
func (s *Sender) Name() string {
	return notifications.ChannelDiscord
}

type webhookPayload struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Send posts the alert to the webhook.
func (s *Sender) Send(ctx context.Context, alert notifications.Alert) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	payload := webhookPayload{
		Username: s.config.Username,
		Content:  renderContent(alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &notifications.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return nil
}

func renderContent(alert notifications.Alert) string {
	var b strings.Builder
	switch alert.Kind {
	case notifications.AlertStatusChanged:
		fmt.Fprintf(&b, "**[%s] %s**\nStatus: %s -> %s", alert.Severity, alert.Title, alert.FromStatus, alert.Status)
	default:
		fmt.Fprintf(&b, "**[%s] %s**\nNew incident reported (%s)", alert.Severity, alert.Title, statusLine(alert.Status))
	}
	if alert.Description != "" {
		fmt.Fprintf(&b, "\n%s", alert.Description)
	}
	fmt.Fprintf(&b, "\nIncident: %s", alert.IncidentID)
	return b.String()
}

func statusLine(s domain.Status) string {
	return "status " + string(s)
}
