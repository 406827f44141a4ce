package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VerifiedStatus is the canonical verification lifecycle state of a chunk
type VerifiedStatus string

const (
	VerifiedStatusUnverified     VerifiedStatus = "unverified"
	VerifiedStatusCandidate      VerifiedStatus = "candidate"
	VerifiedStatusVerified       VerifiedStatus = "verified"
	VerifiedStatusBanned         VerifiedStatus = "banned"
	VerifiedStatusManualRequired VerifiedStatus = "manual_required"
)

// QAStatus is the outcome of the most recent QA review
type QAStatus string

const (
	QAStatusPending QAStatus = "pending"
	QAStatusPass    QAStatus = "pass"
	QAStatusFail    QAStatus = "fail"
)

// LegacyStatus is the verification_status vocabulary read by external consumers
type LegacyStatus string

const (
	LegacyStatusUnverified          LegacyStatus = "unverified"
	LegacyStatusPendingVerification LegacyStatus = "pending_verification"
	LegacyStatusVerified            LegacyStatus = "verified"
	LegacyStatusAutoVerified        LegacyStatus = "auto_verified"
	LegacyStatusRejected            LegacyStatus = "rejected"
	LegacyStatusFlagged             LegacyStatus = "flagged"
)

// TemplateType is the powertrain family a vehicle key belongs to
type TemplateType string

const (
	TemplateTypeICEGasoline TemplateType = "ICE_GASOLINE"
	TemplateTypeICEDiesel   TemplateType = "ICE_DIESEL"
	TemplateTypeHybrid      TemplateType = "HYBRID"
	TemplateTypeEV          TemplateType = "EV"
)

// Visibility is how a chunk is presented to readers. It is derived, never stored.
type Visibility string

const (
	VisibilityVisible     Visibility = "visible"
	VisibilityQuarantined Visibility = "quarantined"
	VisibilityHidden      Visibility = "hidden"
)

// MaxRegenerationAttempts bounds automatic repair of a failing chunk.
const MaxRegenerationAttempts = 2

// ChunkKey is the unique identity of a chunk.
type ChunkKey struct {
	VehicleKey string
	ContentID  string
	ChunkType  string
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.VehicleKey, k.ContentID, k.ChunkType)
}

// Chunk is an atomic unit of generated vehicle-service content
type Chunk struct {
	ID                   string
	VehicleKey           string
	ContentID            string
	ChunkType            string
	TemplateType         TemplateType
	Title                string
	ContentText          string
	Data                 map[string]any
	Sources              []string
	VerificationStatus   LegacyStatus
	VerifiedStatus       VerifiedStatus
	QAStatus             QAStatus
	QANotes              string
	SourceConfidence     float64
	ConsensusScore       *float64
	PromotionCount       int
	QAPassCount          int
	RegenerationAttempts int
	LastQAReviewedAt     *time.Time
	VerifiedAt           *time.Time
	FailedAt             *time.Time
	RegeneratedAt        *time.Time
	Revision             int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Key returns the chunk's unique identity
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{VehicleKey: c.VehicleKey, ContentID: c.ContentID, ChunkType: c.ChunkType}
}

// IsSafetyCritical reports whether the chunk must pass the full QA cycle before being trusted
func (c *Chunk) IsSafetyCritical() bool {
	return IsSafetyCritical(c.ChunkType, c.ContentID)
}

// Verified reports whether the chunk is trusted by either vocabulary
func (c *Chunk) Verified() bool {
	return c.VerifiedStatus == VerifiedStatusVerified ||
		c.VerificationStatus == LegacyStatusVerified ||
		c.VerificationStatus == LegacyStatusAutoVerified
}

// Visibility derives the presentation state from the lifecycle
func (c *Chunk) Visibility() Visibility {
	switch c.VerifiedStatus {
	case VerifiedStatusBanned, VerifiedStatusManualRequired:
		return VisibilityHidden
	case VerifiedStatusVerified:
		return VisibilityVisible
	}
	if c.IsSafetyCritical() {
		return VisibilityQuarantined
	}
	return VisibilityVisible
}

var safetyCriticalTypes = map[string]struct{}{
	"torque_spec":                   {},
	"wiring_diagram":                {},
	"diag_flow":                     {},
	"fluid_capacity":                {},
	"bleed_sequence":                {},
	"airbag_procedure":              {},
	"brake_procedure":               {},
	"steering_suspension_procedure": {},
}

var safetyCriticalContentMarkers = []string{
	"airbag",
	"srs",
	"brake_bleed",
	"abs_bleed",
	"torque",
	"tightening_spec",
	"steering",
	"suspension",
	"brake",
	"fluid_capacity",
	"oil_capacity",
	"coolant_capacity",
}

// IsSafetyCritical classifies a chunk type / content id pair
func IsSafetyCritical(chunkType, contentID string) bool {
	if _, ok := safetyCriticalTypes[strings.ToLower(chunkType)]; ok {
		return true
	}
	cid := strings.ToLower(contentID)
	for _, marker := range safetyCriticalContentMarkers {
		if strings.Contains(cid, marker) {
			return true
		}
	}
	return false
}

// SafetyCriticalTypes lists the chunk types that are always safety-critical
func SafetyCriticalTypes() []string {
	out := make([]string, 0, len(safetyCriticalTypes))
	for t := range safetyCriticalTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SafetyCriticalMarkers lists the content id substrings that make a chunk safety-critical
func SafetyCriticalMarkers() []string {
	return append([]string(nil), safetyCriticalContentMarkers...)
}

// VehicleMake extracts the make from a year_make_model_engine key
func VehicleMake(vehicleKey string) string {
	parts := strings.Split(strings.ToLower(vehicleKey), "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// TemplateTypeFor derives the powertrain family from a vehicle key.
// Keys with no powertrain marker are treated as gasoline.
func TemplateTypeFor(vehicleKey string) TemplateType {
	key := strings.ToLower(vehicleKey)
	parts := strings.Split(key, "_")
	switch {
	case containsAny(key, "powerstroke", "diesel", "cummins", "duramax", "tdi"):
		return TemplateTypeICEDiesel
	case containsAny(key, "hybrid", "powerboost", "phev"):
		return TemplateTypeHybrid
	case containsAny(key, "electric", "kwh", "lightning") || hasPart(parts, "ev"):
		return TemplateTypeEV
	default:
		return TemplateTypeICEGasoline
	}
}

func hasPart(parts []string, want string) bool {
	for _, p := range parts {
		if p == want {
			return true
		}
	}
	return false
}

// ValidateVehicleKey checks the year_make_model shape
func ValidateVehicleKey(vehicleKey string) error {
	if VehicleMake(vehicleKey) == "" {
		return ErrInvalidVehicleKey
	}
	return nil
}

// ValidateChunk checks the fields every persisted chunk needs
func ValidateChunk(c *Chunk) error {
	if c.VehicleKey == "" || c.ContentID == "" || c.ChunkType == "" {
		return ErrMissingRequiredField
	}
	if err := ValidateVehicleKey(c.VehicleKey); err != nil {
		return err
	}
	if !c.VerifiedStatus.Valid() {
		return ErrInvalidVerifiedStatus
	}
	if !c.QAStatus.Valid() {
		return ErrInvalidQAStatus
	}
	if !c.VerificationStatus.Valid() {
		return ErrInvalidLegacyStatus
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
