//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
)

// startPostgres spins up a disposable PostgreSQL container and returns a
// migrated store backed by it.
func startPostgres(t *testing.T) *store.GORMStore {
	t.Helper()
	ctx := context.Background()

	// PostgreSQL logs readiness twice during startup, once during
	// bootstrap and once when fully ready.
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("logmaster_test"),
		postgres.WithUsername("logmaster_test"),
		postgres.WithPassword("logmaster_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	st, err := store.New(&store.Config{
		Type: store.DatabaseTypePostgres,
		Postgres: store.PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "logmaster_test",
			User:     "logmaster_test",
			Password: "logmaster_test",
			SSLMode:  "disable",
		},
	})
	require.NoError(t, err, "failed to open postgres store")
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func TestPostgresSignatureLifecycle(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	sig := &models.Signature{
		FilePath:               "/var/log/logmaster/logs/fw-core/2026-08-20.log",
		FileHash:               "0a1b2c3d",
		DeviceID:               "fw-core",
		FileDate:               "2026-08-20",
		SignatureB64:           "c2lnbmF0dXJl",
		SignatureAlgorithm:     "RSA-PSS-SHA256",
		CertificateFingerprint: "ff00",
		SignedAt:               time.Now().UTC(),
		FileSize:               1234,
		Status:                 models.SignatureStatusTimestampPending,
		ComplianceStandard:     "5651",
		ComplianceVersion:      "1.0",
		RetentionYears:         2,
	}
	require.NoError(t, st.UpsertSignature(ctx, sig))

	// Upsert on the same path must update, not duplicate.
	sig.Status = models.SignatureStatusValid
	require.NoError(t, st.UpsertSignature(ctx, sig))

	got, err := st.GetSignatureByPath(ctx, sig.FilePath)
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusValid, got.Status)

	pending, err := st.ListSignaturesByStatus(ctx, models.SignatureStatusTimestampPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	token := "dG9rZW4="
	require.NoError(t, st.SetSignatureTimestamp(ctx, sig.FilePath, token))
	got, err = st.GetSignatureByPath(ctx, sig.FilePath)
	require.NoError(t, err)
	require.NotNil(t, got.TSATimestampB64)
	assert.Equal(t, token, *got.TSATimestampB64)
}

func TestPostgresArchiveAndRetention(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := &models.ArchiveEntry{
		OriginalPath:   "/var/log/logmaster/logs/fw-core/2026-08-01.log",
		ArchivePath:    "/var/log/logmaster/archive/fw-core/2026-08-01.log.gz",
		DeviceID:       "fw-core",
		Compression:    "gzip",
		OriginalSize:   4096,
		CompressedSize: 512,
		ArchiveHash:    "beef",
		RetentionUntil: now.AddDate(0, 0, -1),
	}
	require.NoError(t, st.InsertArchive(ctx, entry))

	byOrig, err := st.GetArchiveByOriginalPath(ctx, entry.OriginalPath)
	require.NoError(t, err)
	assert.Equal(t, entry.ArchivePath, byOrig.ArchivePath)

	expired, err := st.ListExpiredArchives(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, st.DeleteArchive(ctx, expired[0].ID))
	_, err = st.GetArchiveByOriginalPath(ctx, entry.OriginalPath)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
}

func TestPostgresReportAndAccessTrail(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAccess(ctx, &models.AccessEvent{
		Actor: "cli", Action: "verify_signature", Path: "/x.log", Success: true,
	}))
	require.NoError(t, st.AppendAccess(ctx, &models.AccessEvent{
		Actor: "cli", Action: "verify_signature", Path: "/y.log", Success: false,
	}))

	stats, err := st.AccessStats(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Successful)

	report := &models.ComplianceReport{
		PeriodStart: time.Now().AddDate(0, 0, -30),
		PeriodEnd:   time.Now(),
		Score:       90,
	}
	require.NoError(t, st.SaveReport(ctx, report))
	require.NotZero(t, report.ID)

	reports, err := st.ListReports(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.InDelta(t, 90, reports[0].Score, 0.001)
}
