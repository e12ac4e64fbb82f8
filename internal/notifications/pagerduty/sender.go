// Package pagerduty sends incident alerts through the PagerDuty
// Events API v2.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/notifications"
)

const (
	defaultEventsURL = "https://events.pagerduty.com/v2/enqueue"
	defaultTimeout   = 10 * time.Second
	eventSource      = "incident-ledger"
)

// Config holds pagerduty sender configuration.
type Config struct {
	RoutingKey string
	EventsURL  string // defaults to the public Events API endpoint
	Timeout    time.Duration
}

// Sender enqueues a structured event per alert, routed by the
// configured integration key.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a pagerduty sender. Returns an error if the
// routing key is missing.
func NewSender(config Config) (*Sender, error) {
	if config.RoutingKey == "" {
		return nil, errors.New("pagerduty sender: routing key is required")
	}
	if config.EventsURL == "" {
		config.EventsURL = defaultEventsURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns the channel name used in policy tables.
func (s *Sender) Name() string {
	return notifications.ChannelPagerDuty
}

type eventPayload struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventDetails `json:"payload"`
}

type eventDetails struct {
	Summary   string            `json:"summary"`
	Source    string            `json:"source"`
	Severity  string            `json:"severity"`
	Timestamp string            `json:"timestamp,omitempty"`
	Custom    map[string]string `json:"custom_details,omitempty"`
}

// Send enqueues a trigger event for the alert.
func (s *Sender) Send(ctx context.Context, alert notifications.Alert) error {
	payload := eventPayload{
		RoutingKey:  s.config.RoutingKey,
		EventAction: "trigger",
		DedupKey:    alert.IncidentID,
		Payload: eventDetails{
			Summary:  fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
			Source:   eventSource,
			Severity: pdSeverity(alert.Severity),
			Custom: map[string]string{
				"incident_id": alert.IncidentID,
				"status":      string(alert.Status),
			},
		},
	}
	if !alert.OccurredAt.IsZero() {
		payload.Payload.Timestamp = alert.OccurredAt.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.EventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
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

// pdSeverity maps internal tiers onto the four levels the Events API
// accepts.
func pdSeverity(s domain.Severity) string {
	switch s {
	case domain.SeveritySev1:
		return "critical"
	case domain.SeveritySev2:
		return "error"
	case domain.SeveritySev3:
		return "warning"
	default:
		return "info"
	}
}
