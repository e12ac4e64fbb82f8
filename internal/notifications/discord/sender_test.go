package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() notifications.Alert {
	return notifications.Alert{
		Kind:        notifications.AlertIncidentCreated,
		IncidentID:  "inc-1",
		Title:       "API down",
		Description: "5xx on all endpoints",
		Severity:    domain.SeveritySev1,
		Status:      domain.StatusNew,
		OccurredAt:  time.Now().UTC(),
	}
}

func TestNewSenderRequiresWebhookURL(t *testing.T) {
	_, err := NewSender(Config{})
	require.Error(t, err)
}

func TestSendPostsWebhookPayload(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender, err := NewSender(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), testAlert()))
	assert.Equal(t, "incident-ledger", received.Username)
	assert.Contains(t, received.Content, "API down")
	assert.Contains(t, received.Content, "SEV1")
	assert.Contains(t, received.Content, "inc-1")
}

func TestSendStatusChangedMentionsBothStatuses(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewSender(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	alert := testAlert()
	alert.Kind = notifications.AlertStatusChanged
	alert.FromStatus = domain.StatusNew
	alert.Status = domain.StatusTriaged

	require.NoError(t, sender.Send(context.Background(), alert))
	assert.Contains(t, received.Content, "NEW")
	assert.Contains(t, received.Content, "TRIAGED")
}

func TestSendReturnsStatusErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	sender, err := NewSender(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	err = sender.Send(context.Background(), testAlert())
	require.Error(t, err)

	var statusErr *notifications.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestSendHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender, err := NewSender(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, sender.Send(ctx, testAlert()))
}
