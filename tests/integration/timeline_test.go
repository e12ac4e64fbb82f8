//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/opsgrove/incident-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeline_CommentsInterleaveWithTransitions(t *testing.T) {
	client := newTestClient(t, "op-1")
	inc := createTestIncident(t, client, "Commented incident")

	resp, err := client.POST("/api/v1/incidents/"+inc.ID+"/comments", map[string]interface{}{
		"message": "Looking into it",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var commentResult struct {
		Data timelineEventData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &commentResult)
	assert.Equal(t, "COMMENT", commentResult.Data.Type)
	assert.Equal(t, "op-1", commentResult.Data.ActorID)

	tr := transition(t, client, inc.ID, "TRIAGED", "triaged after comment")
	require.Equal(t, http.StatusOK, tr.StatusCode)
	tr.Body.Close()

	events := getTimeline(t, client, inc.ID)
	require.Len(t, events, 3)
	assert.Equal(t, "STATUS_CHANGE", events[0].Type)
	assert.Equal(t, "COMMENT", events[1].Type)
	assert.Equal(t, "STATUS_CHANGE", events[2].Type)
	require.NotNil(t, events[2].FromStatus)
	assert.Equal(t, "NEW", *events[2].FromStatus)
}

func TestTimeline_EmptyCommentRejected(t *testing.T) {
	client := newTestClient(t, "op-1")
	inc := createTestIncident(t, client, "No empty comments")

	resp, err := client.POST("/api/v1/incidents/"+inc.ID+"/comments", map[string]interface{}{
		"message": "",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTimeline_UnknownIncident(t *testing.T) {
	client := newTestClient(t, "op-1")

	resp, err := client.GET("/api/v1/incidents/00000000-0000-0000-0000-000000000000/timeline")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTimeline_CommentDoesNotChangeAuditHash(t *testing.T) {
	client := newTestClient(t, "op-1")
	inc := createTestIncident(t, client, "Hash stable under comments")
	originalHash := *inc.AuditHash

	resp, err := client.POST("/api/v1/incidents/"+inc.ID+"/comments", map[string]interface{}{
		"message": "Just a note",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	getResp, err := client.GET("/api/v1/incidents/" + inc.ID)
	require.NoError(t, err)
	var result struct {
		Data incidentData `json:"data"`
	}
	testutil.DecodeJSON(t, getResp, &result)
	require.NotNil(t, result.Data.AuditHash)
	assert.Equal(t, originalHash, *result.Data.AuditHash)
}
