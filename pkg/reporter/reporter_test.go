package reporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
	"github.com/logmaster/logmaster/pkg/store/storetest"
)

var (
	// Wide window so fixture rows stamped with the wall clock always
	// fall inside it.
	windowStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newReporter(t *testing.T) (*Reporter, *store.GORMStore) {
	t.Helper()
	st := storetest.NewSQLiteStore(t)
	r, err := New(st)
	require.NoError(t, err)
	return r, st
}

func addSignature(t *testing.T, st *store.GORMStore, path string, status models.SignatureStatus, timestamped bool) {
	t.Helper()
	sig := &models.Signature{
		FilePath:           path,
		FileHash:           "hash-" + path,
		DeviceID:           "firewall-hq",
		FileDate:           "2026-08-10",
		SignatureB64:       "c2ln",
		SignatureAlgorithm: "RSA-PSS-SHA256",
		SignedAt:           time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
		FileSize:           100,
		Status:             status,
	}
	if timestamped {
		token := "dG9rZW4="
		sig.TSATimestampB64 = &token
	}
	require.NoError(t, st.UpsertSignature(context.Background(), sig))
}

func addArchive(t *testing.T, st *store.GORMStore, name string) {
	t.Helper()
	require.NoError(t, st.InsertArchive(context.Background(), &models.ArchiveEntry{
		OriginalPath:   "/logs/" + name,
		ArchivePath:    "/archive/" + name + ".gz",
		DeviceID:       "firewall-hq",
		Compression:    "gzip",
		OriginalSize:   100,
		CompressedSize: 10,
		ArchiveHash:    "hash-" + name,
		RetentionUntil: time.Date(2028, 8, 10, 0, 0, 0, 0, time.UTC),
	}))
}

func addAccess(t *testing.T, st *store.GORMStore, success bool) {
	t.Helper()
	require.NoError(t, st.AppendAccess(context.Background(), &models.AccessEvent{
		Actor:   "test",
		Action:  "verify_signature",
		Success: success,
	}))
}

func TestEmptyWindowScoresHundred(t *testing.T) {
	r, _ := newReporter(t)

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Score)
	assert.Zero(t, report.TotalSignatures)
}

func TestPerfectWindow(t *testing.T) {
	r, st := newReporter(t)

	addSignature(t, st, "/logs/a.log", models.SignatureStatusValid, true)
	addSignature(t, st, "/logs/b.log", models.SignatureStatusValid, true)
	addArchive(t, st, "a.log")
	addAccess(t, st, true)

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	// Generate appends its own audited access before stats were read,
	// so the counters reflect the fixtures only.
	assert.Equal(t, int64(2), report.TotalSignatures)
	assert.Equal(t, int64(2), report.ValidSignatures)
	assert.Equal(t, int64(2), report.TimestampedSignatures)
	assert.Equal(t, int64(1), report.TotalArchives)
	assert.InDelta(t, 100.0, report.Score, 0.001)
}

func TestMissingTimestampsPenalized(t *testing.T) {
	r, st := newReporter(t)

	addSignature(t, st, "/logs/a.log", models.SignatureStatusValid, true)
	addSignature(t, st, "/logs/b.log", models.SignatureStatusTimestampPending, false)
	addArchive(t, st, "a.log")

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	// One of two signatures is pending: 40*(1-1/2)=20 validity penalty
	// plus 20*(1-1/2)=10 timestamp penalty.
	assert.InDelta(t, 70.0, report.Score, 0.001)
}

func TestNoArchivesFlatPenalty(t *testing.T) {
	r, st := newReporter(t)

	addSignature(t, st, "/logs/a.log", models.SignatureStatusValid, true)

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, report.Score, 0.001)
}

func TestFailedAccessPenalized(t *testing.T) {
	r, st := newReporter(t)

	addSignature(t, st, "/logs/a.log", models.SignatureStatusValid, true)
	addArchive(t, st, "a.log")
	addAccess(t, st, true)
	addAccess(t, st, false)

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	// 20*(1-1/2)=10 access penalty.
	assert.InDelta(t, 90.0, report.Score, 0.001)
}

func TestScoreFloorIsZero(t *testing.T) {
	sig := store.SignatureStats{Total: 10, Valid: 0, Timestamped: 0}
	arc := store.ArchiveStats{Total: 0}
	acc := store.AccessStats{Total: 10, Successful: 0}

	assert.Equal(t, 0.0, computeScore(sig, arc, acc))
}

func TestReportPersistedAndListed(t *testing.T) {
	r, st := newReporter(t)
	ctx := context.Background()

	report, err := r.Generate(ctx, windowStart, windowEnd)
	require.NoError(t, err)
	require.NotZero(t, report.ID)

	stored, err := st.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Score, stored.Score)

	list, err := st.ListReports(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSeriesEmbedded(t *testing.T) {
	r, st := newReporter(t)

	addSignature(t, st, "/logs/a.log", models.SignatureStatusValid, true)
	addArchive(t, st, "a.log")

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	var series Series
	require.NoError(t, json.Unmarshal([]byte(report.SeriesJSON), &series))
	require.Len(t, series.Signatures, 1)
	assert.Equal(t, "2026-08-10", series.Signatures[0].Date)
	assert.Equal(t, int64(1), series.Signatures[0].Count)
	require.Len(t, series.Archives, 1)
}

func TestExportJSON(t *testing.T) {
	r, _ := newReporter(t)

	report, err := r.Generate(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "exports", "report.json")
	require.NoError(t, ExportJSON(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded models.ComplianceReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Score, decoded.Score)
}
