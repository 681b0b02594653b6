package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Domain prefixes for derived identifiers.
// Version suffix enables future algorithm migration.
const (
	DomainFingerprint = "tally/fingerprint/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintInput is the identity-bearing subset of a subscription.
type FingerprintInput struct {
	UserID             string
	CampaignID         string
	CreatedAt          time.Time
	ExternalPaymentIDs []string
}

// FingerprintPreimage returns the canonical JSON document that is hashed
// into the fingerprint. Creation time is truncated to the UTC hour;
// external payment ids are trimmed, blank ids dropped, sorted and
// de-duplicated, so upstream ordering never changes the result.
func FingerprintPreimage(in FingerprintInput) ([]byte, error) {
	ids := make([]string, 0, len(in.ExternalPaymentIDs))
	for _, id := range in.ExternalPaymentIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	doc := map[string]any{
		"user_id":              strings.TrimSpace(in.UserID),
		"campaign_id":          strings.TrimSpace(in.CampaignID),
		"created_hour":         in.CreatedAt.UTC().Truncate(time.Hour).Format(time.RFC3339),
		"external_payment_ids": ids,
	}
	return MarshalCanonical(doc)
}

// Fingerprint computes the duplicate-detection hash for a subscription.
// Two subscriptions created in the same hour for the same user, campaign
// and external payment ids share a fingerprint.
func Fingerprint(in FingerprintInput) (string, error) {
	canonical, err := FingerprintPreimage(in)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFingerprint, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(in FingerprintInput) string {
	fp, err := Fingerprint(in)
	if err != nil {
		panic(err)
	}
	return fp
}
