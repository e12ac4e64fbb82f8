//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/opsgrove/incident-ledger/internal/testutil"
	"github.com/stretchr/testify/require"
)

type incidentData struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Severity   string  `json:"severity"`
	ReporterID string  `json:"reporter_id"`
	AssigneeID *string `json:"assignee_id"`
	AuditHash  *string `json:"audit_hash"`
	ResolvedAt *string `json:"resolved_at"`
}

type timelineEventData struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	FromStatus *string `json:"from_status"`
	ToStatus   *string `json:"to_status"`
	Message    string  `json:"message"`
	ActorID    string  `json:"actor_id"`
}

type incidentOption func(map[string]interface{})

func withSeverity(severity string) incidentOption {
	return func(m map[string]interface{}) {
		m["severity"] = severity
	}
}

func withAssignee(userID string) incidentOption {
	return func(m map[string]interface{}) {
		m["assignee_id"] = userID
	}
}

// createTestIncident reports an incident and returns it.
func createTestIncident(t *testing.T, client *testutil.Client, title string, opts ...incidentOption) incidentData {
	t.Helper()

	payload := map[string]interface{}{
		"title":       title,
		"description": "integration test incident",
		"severity":    "SEV3",
		"team_id":     "team-core",
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/incidents", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data incidentData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// transition moves an incident to the requested status and returns the
// response without asserting on it.
func transition(t *testing.T, client *testutil.Client, incidentID, status, message string) *http.Response {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/"+incidentID+"/transition", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	require.NoError(t, err)
	return resp
}

// getTimeline fetches the ordered timeline for an incident.
func getTimeline(t *testing.T, client *testutil.Client, incidentID string) []timelineEventData {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + incidentID + "/timeline")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []timelineEventData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
