package retention

import (
	"context"
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

var testNow = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T, st *store.GORMStore) *Sweeper {
	t.Helper()
	s, err := New(Config{Clock: func() time.Time { return testNow }}, st, nil)
	require.NoError(t, err)
	return s
}

func addArchive(t *testing.T, st *store.GORMStore, dir, device, date string, retentionUntil time.Time) *models.ArchiveEntry {
	t.Helper()

	deviceDir := filepath.Join(dir, device)
	require.NoError(t, os.MkdirAll(deviceDir, 0o755))
	arcPath := filepath.Join(deviceDir, date+".log.gz")
	require.NoError(t, os.WriteFile(arcPath, []byte("gzip bytes"), 0o644))

	entry := &models.ArchiveEntry{
		OriginalPath:   filepath.Join(dir, "logs", device, date+".log"),
		ArchivePath:    arcPath,
		DeviceID:       device,
		Compression:    "gzip",
		OriginalSize:   100,
		CompressedSize: 10,
		ArchiveHash:    "deadbeef",
		RetentionUntil: retentionUntil,
	}
	require.NoError(t, st.InsertArchive(context.Background(), entry))

	stored, err := st.GetArchiveByOriginalPath(context.Background(), entry.OriginalPath)
	require.NoError(t, err)
	return stored
}

func TestSweepPurgesExpiredOnly(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	expired := addArchive(t, st, dir, "firewall-hq", "2024-08-01", testNow.AddDate(0, 0, -1))
	live := addArchive(t, st, dir, "firewall-hq", "2026-08-01", testNow.AddDate(0, 0, 300))

	purged, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	assert.NoFileExists(t, expired.ArchivePath)
	assert.FileExists(t, live.ArchivePath)

	_, err = st.GetArchiveByOriginalPath(ctx, expired.OriginalPath)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
	_, err = st.GetArchiveByOriginalPath(ctx, live.OriginalPath)
	assert.NoError(t, err)
}

func TestSweepToleratesMissingFile(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	entry := addArchive(t, st, dir, "firewall-hq", "2024-08-01", testNow.AddDate(0, 0, -1))
	require.NoError(t, os.Remove(entry.ArchivePath))

	purged, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = st.GetArchiveByOriginalPath(ctx, entry.OriginalPath)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
}

func TestSweepIdempotent(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	addArchive(t, st, dir, "firewall-hq", "2024-08-01", testNow.AddDate(0, 0, -1))

	purged, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	purged, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestPlanListsWithoutDeleting(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	expired := addArchive(t, st, dir, "firewall-hq", "2024-08-01", testNow.AddDate(0, 0, -1))
	addArchive(t, st, dir, "firewall-hq", "2026-08-01", testNow.AddDate(0, 0, 300))

	plan, err := s.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, expired.ArchivePath, plan[0].ArchivePath)

	assert.FileExists(t, expired.ArchivePath)
}

func TestPlanAgreesWithArchiveExpired(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	// Intraday horizons truncate to the day: an archive whose horizon
	// falls later today is kept for the whole day.
	gone := addArchive(t, st, dir, "firewall-hq", "2024-08-25", time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC))
	kept := addArchive(t, st, dir, "core-switch", "2024-08-26", time.Date(2026, 8, 26, 5, 0, 0, 0, time.UTC))

	plan, err := s.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, gone.ArchivePath, plan[0].ArchivePath)
	assert.True(t, plan[0].Expired(testNow))
	assert.False(t, kept.Expired(testNow))
}

func TestRetentionBoundaryIsExclusive(t *testing.T) {
	st := storetest.NewSQLiteStore(t)
	dir := t.TempDir()
	s := newSweeper(t, st)
	ctx := context.Background()

	// Horizon equal to today's date is not yet expired.
	today := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	boundary := addArchive(t, st, dir, "firewall-hq", "2024-08-26", today)

	purged, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.FileExists(t, boundary.ArchivePath)
}
