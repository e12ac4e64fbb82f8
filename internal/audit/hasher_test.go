package audit

import (
	"testing"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIncident() *domain.Incident {
	svc := "svc-1"
	return &domain.Incident{
		ID:               "inc-1",
		Title:            "Database latency spike",
		Description:      "p99 above 2s on primary",
		Status:           domain.StatusNew,
		Severity:         domain.SeveritySev2,
		ReporterID:       "user-1",
		TeamID:           "team-1",
		PrimaryServiceID: &svc,
	}
}

func TestNewHasherRequiresSecret(t *testing.T) {
	_, err := NewHasher("")
	require.Error(t, err)

	_, err = NewHasher("current", "")
	require.Error(t, err)
}

func TestSignIsDeterministic(t *testing.T) {
	h, err := NewHasher("s3cret")
	require.NoError(t, err)

	inc := testIncident()
	first := h.Sign(inc)
	second := h.Sign(inc)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // hex-encoded 256-bit digest
}

func TestSignChangesWithAnyCanonicalField(t *testing.T) {
	h, err := NewHasher("s3cret")
	require.NoError(t, err)

	base := h.Sign(testIncident())

	mutations := map[string]func(*domain.Incident){
		"title":       func(i *domain.Incident) { i.Title = "Database latency spike!" },
		"description": func(i *domain.Incident) { i.Description = "changed" },
		"status":      func(i *domain.Incident) { i.Status = domain.StatusTriaged },
		"severity":    func(i *domain.Incident) { i.Severity = domain.SeveritySev1 },
		"resolved_at": func(i *domain.Incident) {
			ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			i.ResolvedAt = &ts
		},
		"reporter_id": func(i *domain.Incident) { i.ReporterID = "user-2" },
		"team_id":     func(i *domain.Incident) { i.TeamID = "team-2" },
		"primary_service_id": func(i *domain.Incident) {
			svc := "svc-2"
			i.PrimaryServiceID = &svc
		},
	}

	for name, mutate := range mutations {
		inc := testIncident()
		mutate(inc)
		assert.NotEqual(t, base, h.Sign(inc), "mutating %s must change the digest", name)
	}
}

func TestSignDiffersAcrossSecrets(t *testing.T) {
	h1, err := NewHasher("secret-one")
	require.NoError(t, err)
	h2, err := NewHasher("secret-two")
	require.NoError(t, err)

	inc := testIncident()
	assert.NotEqual(t, h1.Sign(inc), h2.Sign(inc))
}

func TestVerifyAcceptsEngineSignedIncident(t *testing.T) {
	h, err := NewHasher("s3cret")
	require.NoError(t, err)

	inc := testIncident()
	sig := h.Sign(inc)
	inc.AuditHash = &sig

	assert.NoError(t, h.Verify(inc))
}

func TestVerifyDetectsOutOfBandMutation(t *testing.T) {
	h, err := NewHasher("s3cret")
	require.NoError(t, err)

	inc := testIncident()
	sig := h.Sign(inc)
	inc.AuditHash = &sig

	// Title changed behind the engine's back while the stored hash
	// stays at the old value.
	inc.Title = "harmless looking edit"

	assert.ErrorIs(t, h.Verify(inc), ErrTampered)
}

func TestVerifyRejectsMissingDigest(t *testing.T) {
	h, err := NewHasher("s3cret")
	require.NoError(t, err)

	inc := testIncident()
	assert.ErrorIs(t, h.Verify(inc), ErrTampered)

	empty := ""
	inc.AuditHash = &empty
	assert.ErrorIs(t, h.Verify(inc), ErrTampered)
}

func TestVerifyAcceptsPreviousSecretAfterRotation(t *testing.T) {
	old, err := NewHasher("old-secret")
	require.NoError(t, err)

	inc := testIncident()
	sig := old.Sign(inc)
	inc.AuditHash = &sig

	// Rotated hasher keeps the retired secret in its ring.
	rotated, err := NewHasher("new-secret", "old-secret")
	require.NoError(t, err)
	assert.NoError(t, rotated.Verify(inc))

	// Dropping the retired secret makes the old digest unverifiable.
	dropped, err := NewHasher("new-secret")
	require.NoError(t, err)
	assert.ErrorIs(t, dropped.Verify(inc), ErrTampered)
}

func TestCanonicalizeIgnoresNonIntegrityFields(t *testing.T) {
	a := testIncident()
	b := testIncident()
	b.ID = "other-id"
	b.CreatedAt = time.Now()
	b.UpdatedAt = time.Now()
	assignee := "user-9"
	b.AssigneeID = &assignee

	assert.Equal(t, Canonicalize(a), Canonicalize(b))
}

func TestCanonicalizeLengthPrefixPreventsBoundaryShifting(t *testing.T) {
	a := testIncident()
	a.Title = "ab"
	a.Description = "c"

	b := testIncident()
	b.Title = "a"
	b.Description = "bc"

	assert.NotEqual(t, Canonicalize(a), Canonicalize(b))
}
