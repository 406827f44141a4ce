//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

func TestReportRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewReportRepository(setupPool(ctx, t))

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrReportNotFound)

	day1 := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	first := domain.NewDailyReport(day1, domain.QAStats{Total: 10, Pass: 7, Fail: 2, Pending: 1})
	second := domain.NewDailyReport(day2, domain.QAStats{Total: 12, Pass: 9, Fail: 2, Pending: 1, VerifiedTotal: 4})
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	t.Run("duplicate date", func(t *testing.T) {
		dup := domain.NewDailyReport(day2.Add(time.Hour), domain.QAStats{})
		assert.ErrorIs(t, repo.Insert(ctx, dup), domain.ErrReportAlreadyExists)
	})

	t.Run("latest", func(t *testing.T) {
		latest, err := repo.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-02", latest.ReportDate.Format(time.DateOnly))
		assert.Equal(t, int64(4), latest.Stats.VerifiedTotal)
		assert.Equal(t, second.Summary, latest.Summary)
		assert.Empty(t, latest.ArchiveKey)
	})

	t.Run("archive key", func(t *testing.T) {
		second.ArchiveKey = "reports/2026/03/02.json"
		require.NoError(t, repo.SetArchiveKey(ctx, second))

		latest, err := repo.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "reports/2026/03/02.json", latest.ArchiveKey)

		missing := domain.NewDailyReport(day1.AddDate(0, 0, -7), domain.QAStats{})
		missing.ArchiveKey = "reports/x.json"
		assert.ErrorIs(t, repo.SetArchiveKey(ctx, missing), domain.ErrReportNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		reports, err := repo.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, "2026-03-02", reports[0].ReportDate.Format(time.DateOnly))
		assert.Equal(t, "2026-03-01", reports[1].ReportDate.Format(time.DateOnly))

		reports, err = repo.List(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, reports, 1)
	})
}

func TestCheckpointRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckpointRepository(setupPool(ctx, t))

	_, err := repo.Load(ctx, "qa_cycle")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

	started := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	next := started.Add(24 * time.Hour)
	cp := &domain.SchedulerCheckpoint{
		Name:             "qa_cycle",
		LastRunStartedAt: &started,
		LastRunStatus:    domain.RunStatusNeverRun,
		NextRunAt:        &next,
	}
	require.NoError(t, repo.Save(ctx, cp))

	finished := started.Add(3 * time.Minute)
	cp.LastRunFinishedAt = &finished
	cp.LastRunStatus = domain.RunStatusSuccess
	require.NoError(t, repo.Save(ctx, cp))

	got, err := repo.Load(ctx, "qa_cycle")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, got.LastRunStatus)
	require.NotNil(t, got.LastRunFinishedAt)
	assert.True(t, finished.Equal(*got.LastRunFinishedAt))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.False(t, got.UpdatedAt.IsZero())
}
