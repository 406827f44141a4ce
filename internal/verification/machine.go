// Package verification implements the chunk verification lifecycle.
//
// Chunks start unverified. A passing QA review promotes them to candidate,
// and a second pass on a later UTC calendar day promotes them to verified.
// A failure after verification bans the chunk; repeated failures after
// repair escalate it to manual review. Banned and manual_required are sinks:
// only QA fields are recorded for them.
package verification

import (
	"fmt"
	"time"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// Transition is the field update produced for one QA outcome
type Transition = domain.Transition

// Note prefixes written on lifecycle demotions
const (
	BannedNotePrefix    = "BANNED: Failed QA after verification."
	EscalatedNotePrefix = "ESCALATED: Failed QA multiple times. Manual review required."
	FallbackNotePrefix  = "MANUAL REQUIRED (Escalated):"
)

// Machine computes lifecycle transitions. It holds no state.
type Machine struct {
	maxAttempts int
}

// NewMachine creates a Machine escalating at domain.MaxRegenerationAttempts
func NewMachine() *Machine {
	return &Machine{maxAttempts: domain.MaxRegenerationAttempts}
}

// NewMachineWithLimit creates a Machine escalating at maxAttempts
func NewMachineWithLimit(maxAttempts int) *Machine {
	return &Machine{maxAttempts: maxAttempts}
}

// Apply computes the transition for a QA outcome reviewed at reviewedAt.
// Consensus and confidence never influence the result.
func (m *Machine) Apply(current domain.Chunk, outcome domain.QAOutcome, reviewedAt time.Time) Transition {
	reviewedAt = reviewedAt.UTC()
	t := Transition{
		QAStatus:         outcome.Status,
		QANotes:          outcome.Notes,
		LastQAReviewedAt: reviewedAt,
		From:             current.VerifiedStatus,
		To:               current.VerifiedStatus,
	}

	if current.VerifiedStatus.IsSink() {
		return t
	}

	switch outcome.Status {
	case domain.QAStatusPass:
		m.pass(&t, current, reviewedAt)
	case domain.QAStatusFail:
		m.fail(&t, current, outcome.Notes, reviewedAt)
	}
	return t
}

func (m *Machine) pass(t *Transition, current domain.Chunk, reviewedAt time.Time) {
	passes := current.QAPassCount + 1
	t.QAPassCount = &passes

	switch current.VerifiedStatus {
	case domain.VerifiedStatusUnverified:
		promote(t, current, domain.VerifiedStatusCandidate)
	case domain.VerifiedStatusCandidate:
		if current.LastQAReviewedAt == nil {
			return
		}
		if !domain.UTCDate(*current.LastQAReviewedAt).Before(domain.UTCDate(reviewedAt)) {
			return
		}
		promote(t, current, domain.VerifiedStatusVerified)
		verifiedAt := reviewedAt
		t.VerifiedAt = &verifiedAt
	}
}

func (m *Machine) fail(t *Transition, current domain.Chunk, notes string, reviewedAt time.Time) {
	if current.FailedAt == nil {
		failedAt := reviewedAt
		t.FailedAt = &failedAt
	}

	switch {
	case current.VerifiedStatus == domain.VerifiedStatusVerified:
		moveTo(t, domain.VerifiedStatusBanned)
		t.QANotes = withPrefix(BannedNotePrefix, notes)
	case current.RegenerationAttempts >= m.maxAttempts:
		fallback := *t
		moveTo(&fallback, domain.VerifiedStatusBanned)
		fallback.QANotes = withPrefix(FallbackNotePrefix, notes)

		moveTo(t, domain.VerifiedStatusManualRequired)
		t.QANotes = withPrefix(EscalatedNotePrefix, notes)
		t.Fallback = &fallback
	}
}

func promote(t *Transition, current domain.Chunk, to domain.VerifiedStatus) {
	moveTo(t, to)
	promotions := current.PromotionCount + 1
	t.PromotionCount = &promotions
}

// moveTo changes the lifecycle and keeps the legacy status in step with it
func moveTo(t *Transition, to domain.VerifiedStatus) {
	legacy := domain.LegacyStatusFor(to)
	t.VerifiedStatus = &to
	t.VerificationStatus = &legacy
	t.To = to
	t.Changed = t.From != to
}

func withPrefix(prefix, notes string) string {
	return fmt.Sprintf("%s %s", prefix, notes)
}
