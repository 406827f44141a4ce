package domain

import "strings"

// Valid reports whether s is a known lifecycle state
func (s VerifiedStatus) Valid() bool {
	switch s {
	case VerifiedStatusUnverified, VerifiedStatusCandidate, VerifiedStatusVerified,
		VerifiedStatusBanned, VerifiedStatusManualRequired:
		return true
	}
	return false
}

// IsSink reports whether automatic transitions must leave the state untouched
func (s VerifiedStatus) IsSink() bool {
	return s == VerifiedStatusBanned || s == VerifiedStatusManualRequired
}

// Valid reports whether s is a known QA outcome
func (s QAStatus) Valid() bool {
	switch s {
	case QAStatusPending, QAStatusPass, QAStatusFail:
		return true
	}
	return false
}

// Valid reports whether s is accepted by the legacy vocabulary
func (s LegacyStatus) Valid() bool {
	switch s {
	case LegacyStatusUnverified, LegacyStatusPendingVerification, LegacyStatusVerified,
		LegacyStatusAutoVerified, LegacyStatusRejected, LegacyStatusFlagged:
		return true
	}
	return false
}

// ParseVerifiedStatus parses a lifecycle state
func ParseVerifiedStatus(s string) (VerifiedStatus, error) {
	v := VerifiedStatus(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", ErrInvalidVerifiedStatus
	}
	return v, nil
}

// ParseQAStatus parses a QA outcome
func ParseQAStatus(s string) (QAStatus, error) {
	v := QAStatus(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", ErrInvalidQAStatus
	}
	return v, nil
}

// legacyByLifecycle is the exhaustive lifecycle to legacy mapping.
var legacyByLifecycle = map[VerifiedStatus]LegacyStatus{
	VerifiedStatusUnverified:     LegacyStatusUnverified,
	VerifiedStatusCandidate:      LegacyStatusPendingVerification,
	VerifiedStatusVerified:       LegacyStatusAutoVerified,
	VerifiedStatusBanned:         LegacyStatusRejected,
	VerifiedStatusManualRequired: LegacyStatusFlagged,
}

// LegacyStatusFor maps a lifecycle state to the legacy vocabulary
func LegacyStatusFor(s VerifiedStatus) LegacyStatus {
	if l, ok := legacyByLifecycle[s]; ok {
		return l
	}
	return LegacyStatusPendingVerification
}

// inboundLegacy maps generator vocabulary to the values the store accepts.
var inboundLegacy = map[string]LegacyStatus{
	"unverified":         LegacyStatusUnverified,
	"pending_review":     LegacyStatusPendingVerification,
	"verified":           LegacyStatusVerified,
	"auto_verified":      LegacyStatusAutoVerified,
	"community_verified": LegacyStatusVerified,
	"flagged":            LegacyStatusPendingVerification,
	"generated":          LegacyStatusPendingVerification,
	"rejected":           LegacyStatusRejected,
}

// NormalizeLegacyStatus maps any generator status string to a storable legacy value
func NormalizeLegacyStatus(s string) LegacyStatus {
	if l, ok := inboundLegacy[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return LegacyStatusPendingVerification
}
