// Package signer seals daily log files: it hashes them, signs the
// contents with the service key, optionally obtains a trusted timestamp,
// writes the signature sidecar and commits the metadata row.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
)

// AlgorithmRSAPSSSHA256 is the only signing algorithm currently emitted.
const AlgorithmRSAPSSSHA256 = "RSA-PSS-SHA256"

// certValidity is the lifetime of generated self-signed certificates.
const certValidity = 5 * 365 * 24 * time.Hour

// hashChunkSize is the read size for streaming SHA-256.
const hashChunkSize = 4096

// KeyConfig controls key and certificate loading.
type KeyConfig struct {
	// PrivateKeyPath is the PEM PKCS#8 private key location.
	PrivateKeyPath string

	// CertPath is the PEM X.509 certificate location.
	CertPath string

	// RSAKeySize is used when generating a fresh key (default 2048).
	RSAKeySize int

	// Subject is the common name for generated certificates.
	Subject string
}

// ApplyDefaults fills zero fields with production defaults.
func (c *KeyConfig) ApplyDefaults() {
	if c.RSAKeySize <= 0 {
		c.RSAKeySize = 2048
	}
	if c.Subject == "" {
		c.Subject = "LogMaster Signing Service"
	}
}

// KeyManager holds the signing key and certificate for the lifetime of
// the process.
type KeyManager struct {
	key         *rsa.PrivateKey
	cert        *x509.Certificate
	fingerprint string
}

// LoadOrCreateKeys loads the key pair from disk, generating and
// persisting a self-signed pair when both files are absent.
func LoadOrCreateKeys(cfg KeyConfig) (*KeyManager, error) {
	cfg.ApplyDefaults()

	if cfg.PrivateKeyPath == "" || cfg.CertPath == "" {
		return nil, fmt.Errorf("private key and certificate paths are required")
	}

	keyExists := fileExists(cfg.PrivateKeyPath)
	certExists := fileExists(cfg.CertPath)

	switch {
	case keyExists && certExists:
		return loadKeys(cfg.PrivateKeyPath, cfg.CertPath)
	case !keyExists && !certExists:
		return generateKeys(cfg)
	default:
		return nil, fmt.Errorf("key material is inconsistent: key present=%v cert present=%v", keyExists, certExists)
	}
}

// Fingerprint returns the lowercase hex SHA-256 of the certificate DER.
func (m *KeyManager) Fingerprint() string {
	return m.fingerprint
}

// Certificate returns the loaded certificate.
func (m *KeyManager) Certificate() *x509.Certificate {
	return m.cert
}

// SignDigest signs a SHA-256 digest with RSA-PSS using the maximum salt
// length.
func (m *KeyManager) SignDigest(digest []byte) ([]byte, error) {
	sig, err := rsa.SignPSS(rand.Reader, m.key, crypto.SHA256, digest, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// VerifyDigest checks an RSA-PSS signature over a SHA-256 digest against
// the certificate public key.
func (m *KeyManager) VerifyDigest(digest, sig []byte) error {
	pub, ok := m.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("certificate does not carry an RSA public key")
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}

// HashFile computes the SHA-256 of a file, streaming in small chunks so
// large daily files never load into memory.
func HashFile(path string) (digest []byte, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, 0, readErr
		}
	}
	return h.Sum(nil), size, nil
}

func loadKeys(keyPath, certPath string) (*KeyManager, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %q: %w", keyPath, err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM block in private key %q", keyPath)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %q: %w", keyPath, err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %q is not RSA", keyPath)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate %q: %w", certPath, err)
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("no PEM block in certificate %q", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %q: %w", certPath, err)
	}

	sum := sha256.Sum256(cert.Raw)
	m := &KeyManager{key: rsaKey, cert: cert, fingerprint: hex.EncodeToString(sum[:])}

	logger.Info("Signing key loaded",
		logger.KeyPath, keyPath,
		logger.KeyFingerprint, m.fingerprint)
	return m, nil
}

func generateKeys(cfg KeyConfig) (*KeyManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, cfg.RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   cfg.Subject,
			Organization: []string{"LogMaster"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		DNSNames:              []string{"logmaster.local", "localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(cfg.PrivateKeyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return nil, err
	}
	if err := writePEM(cfg.CertPath, "CERTIFICATE", der, 0o644); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(der)
	m := &KeyManager{key: key, cert: cert, fingerprint: hex.EncodeToString(sum[:])}

	logger.Info("Generated self-signed signing key",
		logger.KeyPath, cfg.PrivateKeyPath,
		"key_size", cfg.RSAKeySize,
		logger.KeyFingerprint, m.fingerprint)
	return m, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
