// Package audit computes and verifies the tamper-evident integrity
// digest stored on every incident.
package audit

import (
	"bytes"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/unicode/norm"
)

// Verification errors.
var (
	// ErrTampered means the stored digest disagrees with the digest
	// recomputed from the incident's current fields. Non-retriable.
	// The mismatch must never be healed by re-signing, since that
	// would erase evidence of tampering.
	ErrTampered = errors.New("audit integrity check failed: incident fields do not match stored digest")
)

// Hasher signs and verifies incident integrity digests.
//
// Signing always uses the current secret. Verification accepts digests
// produced with the current secret or any of the previous secrets kept
// in the ring, so rotation does not immediately invalidate history:
// old digests stay verifiable until the retired secret is dropped from
// configuration, and are re-signed with the current secret on the next
// engine-mediated mutation.
type Hasher struct {
	secret   []byte
	previous [][]byte
}

// NewHasher creates a hasher from the current signing secret and any
// retired secrets still accepted for verification.
func NewHasher(secret string, previous ...string) (*Hasher, error) {
	if secret == "" {
		return nil, errors.New("audit: signing secret is required")
	}
	h := &Hasher{secret: []byte(secret)}
	for i, p := range previous {
		if p == "" {
			return nil, fmt.Errorf("audit: previous secret %d is empty", i)
		}
		h.previous = append(h.previous, []byte(p))
	}
	return h, nil
}

// Sign computes the keyed digest over the incident's canonical bytes
// using the current secret. The result is hex-encoded.
func (h *Hasher) Sign(inc *domain.Incident) string {
	return digest(h.secret, Canonicalize(inc))
}

// Verify recomputes the digest from the incident's current field
// values and compares it to the stored AuditHash. A missing digest is
// treated as tampering: every engine-mediated mutation signs, so an
// unsigned incident has by definition been written behind the
// engine's back.
func (h *Hasher) Verify(inc *domain.Incident) error {
	if inc.AuditHash == nil || *inc.AuditHash == "" {
		return ErrTampered
	}
	canonical := Canonicalize(inc)
	stored := []byte(*inc.AuditHash)

	if hmac.Equal(stored, []byte(digest(h.secret, canonical))) {
		return nil
	}
	for _, prev := range h.previous {
		if hmac.Equal(stored, []byte(digest(prev, canonical))) {
			return nil
		}
	}
	return ErrTampered
}

func digest(secret, canonical []byte) string {
	mac := hmac.New(sha3.New256, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonicalize serializes the integrity-relevant fields into a byte
// sequence that is stable across runs and independent of any map
// ordering. Each field is written as name:length:value so that no
// combination of values can collide with another field layout. Text
// fields are NFC-normalized first so equal-looking strings hash
// equally regardless of their unicode composition.
func Canonicalize(inc *domain.Incident) []byte {
	var b bytes.Buffer
	writeField(&b, "title", norm.NFC.String(inc.Title))
	writeField(&b, "description", norm.NFC.String(inc.Description))
	writeField(&b, "status", string(inc.Status))
	writeField(&b, "severity", string(inc.Severity))
	writeField(&b, "resolved_at", formatTime(inc.ResolvedAt))
	writeField(&b, "reporter_id", inc.ReporterID)
	writeField(&b, "team_id", inc.TeamID)
	writeField(&b, "primary_service_id", deref(inc.PrimaryServiceID))
	return b.Bytes()
}

func writeField(b *bytes.Buffer, name, value string) {
	fmt.Fprintf(b, "%s:%d:%s\n", name, len(value), value)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
