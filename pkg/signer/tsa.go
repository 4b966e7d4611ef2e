package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TSAConfig controls the trusted timestamp client.
type TSAConfig struct {
	// URL is the timestamp service endpoint.
	URL string

	// Timeout bounds one request (default 30s).
	Timeout time.Duration
}

// ApplyDefaults fills zero fields with production defaults.
func (c *TSAConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// TSAClient obtains trusted timestamp tokens for file digests. The token
// is kept opaque; only the issuing authority can interpret it.
type TSAClient struct {
	cfg    TSAConfig
	client *http.Client
}

// NewTSAClient creates a timestamp client.
func NewTSAClient(cfg TSAConfig) (*TSAClient, error) {
	cfg.ApplyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("TSA URL is required")
	}
	return &TSAClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type tsaRequest struct {
	Hash      string `json:"hash"`
	Algorithm string `json:"algorithm"`
	Timestamp string `json:"timestamp"`
}

type tsaResponse struct {
	TimestampToken string `json:"timestamp_token"`
}

// Timestamp submits a SHA-256 digest and returns the base64 token issued
// for it.
func (c *TSAClient) Timestamp(ctx context.Context, digest []byte) (string, error) {
	body, err := json.Marshal(tsaRequest{
		Hash:      base64.StdEncoding.EncodeToString(digest),
		Algorithm: "SHA256",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode timestamp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build timestamp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("timestamp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("timestamp service returned status %d", resp.StatusCode)
	}

	var parsed tsaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse timestamp response: %w", err)
	}
	if parsed.TimestampToken == "" {
		return "", fmt.Errorf("timestamp response carries no token")
	}
	if _, err := base64.StdEncoding.DecodeString(parsed.TimestampToken); err != nil {
		return "", fmt.Errorf("timestamp token is not valid base64: %w", err)
	}
	return parsed.TimestampToken, nil
}
