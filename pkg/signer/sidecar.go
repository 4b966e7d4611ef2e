package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// SidecarSuffix is appended to a log file path to form its sidecar path.
const SidecarSuffix = ".sig"

// Compliance tags a signature with the regulatory profile it was
// produced under.
type Compliance struct {
	Standard       string `json:"standard"`
	Version        string `json:"version"`
	RetentionYears int    `json:"retention_years"`
}

// Sidecar is the on-disk signature document written next to each sealed
// log file.
type Sidecar struct {
	FilePath               string     `json:"file_path"`
	FileHash               string     `json:"file_hash"`
	Signature              string     `json:"signature"`
	SignatureAlgorithm     string     `json:"signature_algorithm"`
	CertificateFingerprint string     `json:"certificate_fingerprint"`
	SignedAt               time.Time  `json:"signed_at"`
	TSATimestamp           *string    `json:"tsa_timestamp"`
	FileSize               int64      `json:"file_size"`
	Compliance             Compliance `json:"compliance"`
}

// SidecarPath returns the sidecar path for a log file.
func SidecarPath(logPath string) string {
	return logPath + SidecarSuffix
}

// WriteSidecar persists the sidecar with write-temp-and-rename so a
// partially written document is never observable.
func WriteSidecar(path string, sc *Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write sidecar %q: %w", path, err)
	}
	return nil
}

// ReadSidecar loads and parses a sidecar document.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %q: %w", path, err)
	}
	return &sc, nil
}
