// Package verifier is the audit read path: it re-checks archives against
// their recorded hashes and signatures against the certificate.
//
// Verification never mutates the filesystem or the metadata, with one
// deliberate exception: every audit appends a row to the access trail,
// because audited access is itself a scored compliance property.
package verifier

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
	"github.com/logmaster/logmaster/pkg/signer"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
)

// ArchiveResult is the outcome of re-verifying an archive.
type ArchiveResult struct {
	Valid  bool
	Reason string
}

// SignatureResult is the outcome of re-verifying a signature. Both
// fields must be true for a pass.
type SignatureResult struct {
	FileHashMatch  bool
	SignatureValid bool
	Reason         string
}

// Passed reports whether the verification succeeded in full.
func (r SignatureResult) Passed() bool {
	return r.FileHashMatch && r.SignatureValid
}

// Verifier re-checks custody artifacts for audits.
type Verifier struct {
	store   store.Store
	keys    *signer.KeyManager
	metrics metrics.PipelineMetrics

	// Actor is recorded in the access trail, e.g. "cli" or "auditor".
	Actor string
}

// New creates a verifier.
func New(st store.Store, keys *signer.KeyManager, m metrics.PipelineMetrics) (*Verifier, error) {
	if st == nil || keys == nil {
		return nil, fmt.Errorf("verifier requires a store and a key manager")
	}
	return &Verifier{store: st, keys: keys, metrics: m, Actor: "cli"}, nil
}

// VerifyArchive decompresses an archive and compares the plaintext hash
// to the hash recorded at archival time.
func (v *Verifier) VerifyArchive(ctx context.Context, entry *models.ArchiveEntry) ArchiveResult {
	result := v.verifyArchive(entry)

	v.audit(ctx, "verify_archive", entry.ArchivePath, result.Valid)
	metrics.ObserveVerification(v.metrics, result.Valid)
	return result
}

func (v *Verifier) verifyArchive(entry *models.ArchiveEntry) ArchiveResult {
	got, err := hashPlaintext(entry.ArchivePath)
	if err != nil {
		return ArchiveResult{Valid: false, Reason: fmt.Sprintf("cannot read archive: %v", err)}
	}
	if got != entry.ArchiveHash {
		return ArchiveResult{Valid: false, Reason: "plaintext hash does not match recorded archive hash"}
	}
	return ArchiveResult{Valid: true}
}

// VerifySignature re-verifies a .log or .log.gz file against its
// signature. For live files the sidecar is authoritative with the row as
// fallback; for archives the row is the only source because the sidecar
// is deleted at archival.
func (v *Verifier) VerifySignature(ctx context.Context, path string) SignatureResult {
	result := v.verifySignature(ctx, path)

	v.audit(ctx, "verify_signature", path, result.Passed())
	metrics.ObserveVerification(v.metrics, result.Passed())
	return result
}

func (v *Verifier) verifySignature(ctx context.Context, path string) SignatureResult {
	recordedHash, signatureB64, lookupErr := v.lookupSignature(ctx, path)
	if lookupErr != nil {
		return SignatureResult{Reason: lookupErr.Error()}
	}

	got, err := hashPlaintext(path)
	if err != nil {
		return SignatureResult{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}

	result := SignatureResult{FileHashMatch: got == recordedHash}
	if !result.FileHashMatch {
		result.Reason = "file hash does not match signed hash"
	}

	digest, err := hex.DecodeString(got)
	if err != nil {
		result.Reason = fmt.Sprintf("unparseable digest: %v", err)
		return result
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		result.Reason = fmt.Sprintf("unparseable signature: %v", err)
		return result
	}

	if err := v.keys.VerifyDigest(digest, sig); err != nil {
		if result.Reason == "" {
			result.Reason = "signature does not verify against current file bytes"
		}
		return result
	}
	result.SignatureValid = true
	return result
}

// lookupSignature finds the signed hash and signature bytes for a path.
func (v *Verifier) lookupSignature(ctx context.Context, path string) (recordedHash, signatureB64 string, err error) {
	if strings.HasSuffix(path, ".log.gz") {
		entry, lookupErr := v.store.GetArchiveByArchivePath(ctx, path)
		if lookupErr != nil {
			return "", "", fmt.Errorf("no archive row for %q", path)
		}
		row, rowErr := v.store.GetSignatureByPath(ctx, entry.OriginalPath)
		if rowErr != nil {
			return "", "", fmt.Errorf("no signature row for archived file %q", entry.OriginalPath)
		}
		return row.FileHash, row.SignatureB64, nil
	}

	if sc, scErr := signer.ReadSidecar(signer.SidecarPath(path)); scErr == nil {
		return sc.FileHash, sc.Signature, nil
	} else if !errors.Is(scErr, os.ErrNotExist) {
		return "", "", fmt.Errorf("unreadable sidecar for %q: %v", path, scErr)
	}

	row, rowErr := v.store.GetSignatureByPath(ctx, path)
	if rowErr != nil {
		return "", "", fmt.Errorf("no sidecar and no signature row for %q", path)
	}
	return row.FileHash, row.SignatureB64, nil
}

// audit appends one access-trail row. Failures are logged, not
// propagated; the verification result stands on its own.
func (v *Verifier) audit(ctx context.Context, action, path string, success bool) {
	err := v.store.AppendAccess(ctx, &models.AccessEvent{
		Actor:   v.Actor,
		Action:  action,
		Path:    path,
		Success: success,
	})
	if err != nil {
		logger.Warn("Failed to append access trail row",
			logger.KeyPath, path,
			logger.KeyError, err)
	}
}

// hashPlaintext hashes the logical content of a path: gzip archives are
// decompressed first, plain files are hashed as-is.
func hashPlaintext(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		r = gz
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
