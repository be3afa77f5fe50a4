// Package identity maps external platform identifiers to the internal 128-bit
// ids used by every store. The mapping is deterministic: the same external id
// always yields the same internal id, across processes and deployments.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// userNamespace is the fixed process-wide namespace for deterministic user id
// derivation. Changing it would orphan every existing record.
var userNamespace = uuid.MustParse("c7e7f1d0-5a5d-5a5e-a2b0-914b8c42a3d7")

// SystemUserID is the reserved user that owns orphaned or unattributed
// records.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000000")

// InternalID derives the internal id for an external platform identifier
// (for example a Telegram numeric id rendered as a string). Inputs that are
// already canonical UUIDs pass through unchanged.
func InternalID(externalID string) uuid.UUID {
	externalID = strings.TrimSpace(externalID)
	if parsed, err := uuid.Parse(externalID); err == nil {
		return parsed
	}
	return uuid.NewSHA1(userNamespace, []byte(externalID))
}

// Canonical renders an id in its canonical lower-case textual form. All id
// comparisons at the query layer go through this form.
func Canonical(id uuid.UUID) string {
	return strings.ToLower(id.String())
}

// Candidates returns the textual forms to try when matching a historical id
// column against an identifier of unknown provenance: the raw text, the
// derived internal id, and the suffix (last hyphen-separated segment) used by
// legacy rows that stored ids with a fixed prefix.
func Candidates(raw string) (text, internal, suffix string) {
	raw = strings.TrimSpace(raw)
	text = strings.ToLower(raw)
	internal = Canonical(InternalID(raw))
	if idx := strings.LastIndex(text, "-"); idx >= 0 && idx+1 < len(text) {
		suffix = text[idx+1:]
	} else {
		suffix = text
	}
	return text, internal, suffix
}
