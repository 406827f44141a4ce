package domain

import (
	"fmt"
	"time"
)

// QAOutcome is the verdict the QA agent assigns to a chunk
type QAOutcome struct {
	Status QAStatus `json:"status"`
	Notes  string   `json:"notes"`
}

// QAStats are the status counters of the chunk store
type QAStats struct {
	Pending             int64 `json:"pending"`
	Pass                int64 `json:"pass"`
	Fail                int64 `json:"fail"`
	Regenerated         int64 `json:"regenerated"`
	VerifiedTotal       int64 `json:"verified_total"`
	CandidateTotal      int64 `json:"candidate_total"`
	BannedTotal         int64 `json:"banned_total"`
	ManualRequiredTotal int64 `json:"manual_required_total"`
	QuarantinedTotal    int64 `json:"quarantined_total"`
	NewlyGeneratedToday int64 `json:"newly_generated_today"`
	Total               int64 `json:"total"`
}

// Summary renders the one-line report summary
func (s QAStats) Summary() string {
	return fmt.Sprintf("Total: %d | Pass: %d | Fail: %d | Pending: %d", s.Total, s.Pass, s.Fail, s.Pending)
}

// DailyReport is the persisted result of a QA cycle's report phase
type DailyReport struct {
	ReportDate time.Time `json:"report_date"`
	Stats      QAStats   `json:"stats"`
	Summary    string    `json:"summary"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewDailyReport builds a report for the UTC calendar date of at
func NewDailyReport(at time.Time, stats QAStats) *DailyReport {
	return &DailyReport{
		ReportDate: UTCDate(at),
		Stats:      stats,
		Summary:    stats.Summary(),
		CreatedAt:  at.UTC(),
	}
}

// SchedulerCheckpoint is the persisted state of a named scheduler
type SchedulerCheckpoint struct {
	Name              string
	LastRunStartedAt  *time.Time
	LastRunFinishedAt *time.Time
	LastRunStatus     string
	NextRunAt         *time.Time
	UpdatedAt         time.Time
}

// Scheduler run statuses
const (
	RunStatusNeverRun = "never_run"
	RunStatusSuccess  = "success"
	RunStatusFailed   = "failed"
)

// FailedRunStatus renders the failed status with its detail
func FailedRunStatus(detail string) string {
	return fmt.Sprintf("%s: %s", RunStatusFailed, detail)
}

// UTCDate truncates t to midnight of its UTC calendar date
func UTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
