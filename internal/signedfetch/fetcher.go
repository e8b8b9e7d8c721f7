// Package signedfetch retrieves remote control documents and releases their
// payload only after the publisher signature verifies against the trusted key.
package signedfetch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/haukened/exposuregate/internal/domain"
)

// DefaultMaxBytes bounds a single document read.
const DefaultMaxBytes = 4 << 20

// Config is the immutable verification setup chosen at process start.
type Config struct {
	TrustedKey *ecdsa.PublicKey
	Format     Format
	MaxBytes   int64
	UserAgent  string
}

// Source is anything that yields verified payload bytes for a URL.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Fetcher downloads signed envelopes over HTTP. It keeps no state between
// calls and is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

var _ Source = (*Fetcher)(nil)

// New validates cfg and returns a Fetcher. A nil client gets a 30s timeout.
func New(cfg Config, client *http.Client) (*Fetcher, error) {
	if cfg.TrustedKey == nil {
		return nil, ErrNoTrustedKey
	}
	if cfg.TrustedKey.Curve != elliptic.P256() {
		return nil, ErrInvalidKey
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{cfg: cfg, client: client}, nil
}

// Fetch GETs url and returns the verified payload. Transport problems wrap
// domain.ErrTransport; verification problems wrap domain.ErrSignatureInvalid
// and never return any part of the body.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json, application/jose")
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, errors.Wrapf(domain.ErrTransport, "GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "GET %s: read body: %v", url, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, errors.Wrapf(domain.ErrTransport, "GET %s: document exceeds %d bytes", url, f.cfg.MaxBytes)
	}
	payload, err := open(f.cfg.Format, body, f.cfg.TrustedKey)
	if err != nil {
		return nil, errors.WithMessagef(err, "GET %s", url)
	}
	return payload, nil
}

// FetchJSON fetches url from src and decodes the verified payload into T.
// Malformed payloads wrap domain.ErrParse.
func FetchJSON[T any](ctx context.Context, src Source, url string) (T, error) {
	var zero T
	payload, err := src.Fetch(ctx, url)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return zero, errors.Wrapf(domain.ErrParse, "decode %s: %v", url, err)
	}
	return v, nil
}
