//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/testutil"
)

type archivedReport struct {
	Date    string         `json:"date"`
	Summary string         `json:"summary"`
	Stats   map[string]int `json:"stats"`
}

func setupS3(ctx context.Context, t *testing.T) *S3Client {
	t.Helper()
	rc := testutil.NewRustFSContainer(ctx, t)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "qa-reports",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return client.EnsureBucket(ctx) == nil
	}, 30*time.Second, time.Second)
	return client
}

func TestReportKey(t *testing.T) {
	at := time.Date(2026, 3, 2, 23, 30, 0, 0, time.FixedZone("PST", -8*3600))
	assert.Equal(t, "reports/2026/03/03.json", ReportKey(at))
}

func TestS3Client_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := setupS3(ctx, t)

	key := ReportKey(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	in := archivedReport{Date: "2026-03-02", Summary: "12 reviewed, 3 promoted", Stats: map[string]int{"pass": 9, "fail": 3}}
	require.NoError(t, client.PutJSON(ctx, key, in))

	var out archivedReport
	require.NoError(t, client.GetJSON(ctx, key, &out))
	assert.Equal(t, in, out)

	require.NoError(t, client.DeleteObject(ctx, key))
	assert.ErrorIs(t, client.GetJSON(ctx, key, &out), ErrObjectNotFound)
}

func TestS3Client_EnsureBucketIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := setupS3(ctx, t)

	assert.NoError(t, client.EnsureBucket(ctx))
}
