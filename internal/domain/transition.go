package domain

import "time"

// Transition is the set of field updates produced by one QA outcome. Nil
// pointer fields are left untouched by the store.
type Transition struct {
	QAStatus         QAStatus
	QANotes          string
	LastQAReviewedAt time.Time

	VerifiedStatus     *VerifiedStatus
	VerificationStatus *LegacyStatus
	PromotionCount     *int
	QAPassCount        *int
	VerifiedAt         *time.Time
	FailedAt           *time.Time

	From    VerifiedStatus
	To      VerifiedStatus
	Changed bool

	// Fallback replaces this transition when the store rejects To.
	Fallback *Transition
}

// ApplyTo writes the transition onto c
func (t Transition) ApplyTo(c *Chunk) {
	c.QAStatus = t.QAStatus
	c.QANotes = t.QANotes
	reviewed := t.LastQAReviewedAt
	c.LastQAReviewedAt = &reviewed

	if t.VerifiedStatus != nil {
		c.VerifiedStatus = *t.VerifiedStatus
	}
	if t.VerificationStatus != nil {
		c.VerificationStatus = *t.VerificationStatus
	}
	if t.PromotionCount != nil {
		c.PromotionCount = *t.PromotionCount
	}
	if t.QAPassCount != nil {
		c.QAPassCount = *t.QAPassCount
	}
	if t.VerifiedAt != nil {
		c.VerifiedAt = t.VerifiedAt
	}
	if t.FailedAt != nil {
		c.FailedAt = t.FailedAt
	}
}
