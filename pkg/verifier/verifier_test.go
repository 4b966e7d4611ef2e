package verifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmaster/logmaster/pkg/archiver"
	"github.com/logmaster/logmaster/pkg/signer"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
	"github.com/logmaster/logmaster/pkg/store/storetest"
)

type fixture struct {
	verifier *Verifier
	store    *store.GORMStore
	signEng  *signer.Engine
	arcEng   *archiver.Engine
	logBase  string
	arcBase  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := storetest.NewSQLiteStore(t)
	logBase := t.TempDir()
	arcBase := t.TempDir()

	km, err := signer.LoadOrCreateKeys(signer.KeyConfig{
		PrivateKeyPath: filepath.Join(t.TempDir(), "signing.key"),
		CertPath:       filepath.Join(t.TempDir(), "signing.crt"),
	})
	require.NoError(t, err)

	signEng, err := signer.New(signer.Config{LogBasePath: logBase}, st, km, nil, nil, nil)
	require.NoError(t, err)
	arcEng, err := archiver.New(archiver.Config{
		LogBasePath:     logBase,
		ArchiveBasePath: arcBase,
	}, st, nil)
	require.NoError(t, err)

	v, err := New(st, km, nil)
	require.NoError(t, err)

	return &fixture{verifier: v, store: st, signEng: signEng, arcEng: arcEng, logBase: logBase, arcBase: arcBase}
}

func (fx *fixture) signedFile(t *testing.T, device, date, content string) string {
	t.Helper()
	dir := filepath.Join(fx.logBase, device)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, date+".log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, fx.signEng.SignFile(context.Background(), path, device, date))
	return path
}

func (fx *fixture) archivedEntry(t *testing.T, device, date, content string) *models.ArchiveEntry {
	t.Helper()
	path := fx.signedFile(t, device, date, content)
	require.NoError(t, fx.arcEng.ArchiveFile(context.Background(), path, device, date))
	entry, err := fx.store.GetArchiveByOriginalPath(context.Background(), path)
	require.NoError(t, err)
	return entry
}

func TestVerifySignatureLiveFile(t *testing.T) {
	fx := newFixture(t)
	path := fx.signedFile(t, "firewall-hq", "2026-03-14", "intact content\n")

	res := fx.verifier.VerifySignature(context.Background(), path)
	assert.True(t, res.FileHashMatch)
	assert.True(t, res.SignatureValid)
	assert.True(t, res.Passed())
	assert.Empty(t, res.Reason)
}

func TestVerifySignatureDetectsTampering(t *testing.T) {
	fx := newFixture(t)
	path := fx.signedFile(t, "firewall-hq", "2026-03-14", "intact content\n")
	require.NoError(t, os.WriteFile(path, []byte("tampered content\n"), 0o644))

	res := fx.verifier.VerifySignature(context.Background(), path)
	assert.False(t, res.FileHashMatch)
	assert.False(t, res.SignatureValid)
	assert.False(t, res.Passed())
	assert.NotEmpty(t, res.Reason)
}

func TestVerifySignatureArchivedFile(t *testing.T) {
	fx := newFixture(t)
	entry := fx.archivedEntry(t, "firewall-hq", "2026-03-14", "archived content\n")

	res := fx.verifier.VerifySignature(context.Background(), entry.ArchivePath)
	assert.True(t, res.Passed(), "reason: %s", res.Reason)
}

func TestVerifySignatureFallsBackToRow(t *testing.T) {
	fx := newFixture(t)
	path := fx.signedFile(t, "firewall-hq", "2026-03-14", "content\n")

	// Sidecar lost; the committed row still carries the signature.
	require.NoError(t, os.Remove(signer.SidecarPath(path)))

	res := fx.verifier.VerifySignature(context.Background(), path)
	assert.True(t, res.Passed(), "reason: %s", res.Reason)
}

func TestVerifySignatureUnknownPath(t *testing.T) {
	fx := newFixture(t)

	res := fx.verifier.VerifySignature(context.Background(), filepath.Join(fx.logBase, "ghost", "2026-01-01.log"))
	assert.False(t, res.Passed())
	assert.NotEmpty(t, res.Reason)
}

func TestVerifyArchiveValid(t *testing.T) {
	fx := newFixture(t)
	entry := fx.archivedEntry(t, "firewall-hq", "2026-03-14", "archived content\n")

	res := fx.verifier.VerifyArchive(context.Background(), entry)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

func TestVerifyArchiveDetectsCorruption(t *testing.T) {
	fx := newFixture(t)
	entry := fx.archivedEntry(t, "firewall-hq", "2026-03-14", "archived content\n")

	require.NoError(t, os.WriteFile(entry.ArchivePath, []byte("not gzip"), 0o644))

	res := fx.verifier.VerifyArchive(context.Background(), entry)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Reason)
}

func TestVerifyArchiveMissingFile(t *testing.T) {
	fx := newFixture(t)
	entry := fx.archivedEntry(t, "firewall-hq", "2026-03-14", "archived content\n")
	require.NoError(t, os.Remove(entry.ArchivePath))

	res := fx.verifier.VerifyArchive(context.Background(), entry)
	assert.False(t, res.Valid)
}

func TestVerificationAppendsAccessTrail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	path := fx.signedFile(t, "firewall-hq", "2026-03-14", "content\n")

	fx.verifier.VerifySignature(ctx, path)
	require.NoError(t, os.WriteFile(path, []byte("tampered\n"), 0o644))
	fx.verifier.VerifySignature(ctx, path)

	stats, err := fx.store.AccessStats(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Successful)
}

func TestVerificationDoesNotMutate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	path := fx.signedFile(t, "firewall-hq", "2026-03-14", "content\n")

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	sidecarBefore, err := os.ReadFile(signer.SidecarPath(path))
	require.NoError(t, err)

	fx.verifier.VerifySignature(ctx, path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	sidecarAfter, err := os.ReadFile(signer.SidecarPath(path))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, sidecarBefore, sidecarAfter)
}
