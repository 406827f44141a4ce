package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// ReportRepository persists daily QA reports, one per UTC date
type ReportRepository struct {
	db dbtx
}

func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: pool}
}

func (r *ReportRepository) Insert(ctx context.Context, report *domain.DailyReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO qa_history_daily (report_date, stats, summary, archive_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		report.ReportDate, report.Stats, report.Summary, nullableString(report.ArchiveKey), report.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrReportAlreadyExists
	}
	return err
}

// SetArchiveKey records where the report JSON was archived
func (r *ReportRepository) SetArchiveKey(ctx context.Context, report *domain.DailyReport) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE qa_history_daily SET archive_key = $2 WHERE report_date = $1`,
		report.ReportDate, nullableString(report.ArchiveKey),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReportNotFound
	}
	return nil
}

func scanReport(row rowScanner) (*domain.DailyReport, error) {
	var report domain.DailyReport
	var archiveKey *string
	if err := row.Scan(&report.ReportDate, &report.Stats, &report.Summary, &archiveKey, &report.CreatedAt); err != nil {
		return nil, err
	}
	report.ArchiveKey = derefString(archiveKey)
	return &report, nil
}

func (r *ReportRepository) Latest(ctx context.Context) (*domain.DailyReport, error) {
	report, err := scanReport(r.db.QueryRow(ctx,
		`SELECT report_date, stats, summary, archive_key, created_at
		 FROM qa_history_daily ORDER BY report_date DESC LIMIT 1`,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, err
	}
	return report, nil
}

func (r *ReportRepository) List(ctx context.Context, limit int) ([]*domain.DailyReport, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(ctx,
		`SELECT report_date, stats, summary, archive_key, created_at
		 FROM qa_history_daily ORDER BY report_date DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.DailyReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
