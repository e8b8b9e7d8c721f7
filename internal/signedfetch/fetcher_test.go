package signedfetch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/exposuregate/internal/domain"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

// serve returns a server answering every GET with body and status.
func serve(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, format Format, key *ecdsa.PublicKey) *Fetcher {
	t.Helper()
	f, err := New(Config{TrustedKey: key, Format: format, UserAgent: "exposuregate-test"}, nil)
	require.NoError(t, err)
	return f
}

func TestFetchReturnsVerifiedPayload(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatJWS} {
		t.Run(string(format), func(t *testing.T) {
			priv := newKey(t)
			payload := []byte(`{"v2":{"ios":"1.2.0","android":"1.1.0","terms":5}}`)
			env, err := Seal(format, payload, priv)
			require.NoError(t, err)
			srv := serve(t, http.StatusOK, env)

			got, err := newFetcher(t, format, &priv.PublicKey).Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFetchRejectsForeignSignature(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatJWS} {
		t.Run(string(format), func(t *testing.T) {
			publisher := newKey(t)
			attacker := newKey(t)
			env, err := Seal(format, []byte(`{"features":[]}`), attacker)
			require.NoError(t, err)
			srv := serve(t, http.StatusOK, env)

			got, err := newFetcher(t, format, &publisher.PublicKey).Fetch(context.Background(), srv.URL)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, domain.ErrSignatureInvalid), "got %v", err)
		})
	}
}

func TestFetchRejectsTamperedJSONEnvelope(t *testing.T) {
	priv := newKey(t)
	env, err := Seal(FormatJSON, []byte(`{"terms":5}`), priv)
	require.NoError(t, err)

	var doc SignedDocument
	require.NoError(t, json.Unmarshal(env, &doc))

	cases := map[string]SignedDocument{
		"payload altered":     {Payload: []byte(`{"terms":6}`), Signature: doc.Signature},
		"signature truncated": {Payload: doc.Payload, Signature: doc.Signature[:len(doc.Signature)/2]},
		"signature flipped":   {Payload: doc.Payload, Signature: flip(doc.Signature)},
		"signature missing":   {Payload: doc.Payload},
		"payload missing":     {Signature: doc.Signature},
	}
	for name, tampered := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(tampered)
			require.NoError(t, err)
			srv := serve(t, http.StatusOK, b)
			got, err := newFetcher(t, FormatJSON, &priv.PublicKey).Fetch(context.Background(), srv.URL)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
		})
	}
}

func TestFetchRejectsTamperedJWS(t *testing.T) {
	priv := newKey(t)
	env, err := Seal(FormatJWS, []byte(`{"terms":5}`), priv)
	require.NoError(t, err)
	parts := strings.Split(string(env), ".")
	require.Len(t, parts, 3)

	cases := map[string]string{
		"not compact":     "abc.def",
		"payload swapped": parts[0] + ".eyJ0ZXJtcyI6Nn0." + parts[2],
		"alg none":        "eyJhbGciOiJub25lIn0." + parts[1] + ".",
		"alg hs256":       "eyJhbGciOiJIUzI1NiJ9." + parts[1] + "." + parts[2],
		"garbage":         "!!!.???.***",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, []byte(body))
			got, err := newFetcher(t, FormatJWS, &priv.PublicKey).Fetch(context.Background(), srv.URL)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
		})
	}
}

func TestFetchFormatMismatchIsInvalid(t *testing.T) {
	priv := newKey(t)
	env, err := Seal(FormatJWS, []byte(`{"terms":5}`), priv)
	require.NoError(t, err)
	srv := serve(t, http.StatusOK, env)
	_, err = newFetcher(t, FormatJSON, &priv.PublicKey).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}

func TestFetchTransportErrors(t *testing.T) {
	priv := newKey(t)
	f := newFetcher(t, FormatJSON, &priv.PublicKey)

	srv := serve(t, http.StatusInternalServerError, []byte("boom"))
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrTransport)

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.ErrorIs(t, err, domain.ErrTransport)

	_, err = f.Fetch(context.Background(), "://bad-url")
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestFetchHonoursMaxBytes(t *testing.T) {
	priv := newKey(t)
	env, err := Seal(FormatJSON, []byte(strings.Repeat("a", 512)), priv)
	require.NoError(t, err)
	srv := serve(t, http.StatusOK, env)
	f, err := New(Config{TrustedKey: &priv.PublicKey, Format: FormatJSON, MaxBytes: 64}, nil)
	require.NoError(t, err)
	got, err := f.Fetch(context.Background(), srv.URL)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestFetchCancelledContext(t *testing.T) {
	priv := newKey(t)
	env, err := Seal(FormatJSON, []byte(`{}`), priv)
	require.NoError(t, err)
	srv := serve(t, http.StatusOK, env)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := newFetcher(t, FormatJSON, &priv.PublicKey).Fetch(ctx, srv.URL)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestFetchJSON(t *testing.T) {
	priv := newKey(t)
	good, err := Seal(FormatJSON, []byte(`{"v2":{"ios":"2.0.1","terms":3}}`), priv)
	require.NoError(t, err)
	bad, err := Seal(FormatJSON, []byte(`{"v2":`), priv)
	require.NoError(t, err)

	f := newFetcher(t, FormatJSON, &priv.PublicKey)

	doc, err := FetchJSON[domain.VersionsDocument](context.Background(), f, serve(t, http.StatusOK, good).URL)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", doc.V2.IOSMinVersion)
	assert.Equal(t, 3, doc.V2.TermsVersion)

	_, err = FetchJSON[domain.VersionsDocument](context.Background(), f, serve(t, http.StatusOK, bad).URL)
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Format: FormatJSON}, nil)
	assert.ErrorIs(t, err, ErrNoTrustedKey)

	other, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	_, err = New(Config{TrustedKey: &other.PublicKey, Format: FormatJSON}, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	priv := newKey(t)
	_, err = New(Config{TrustedKey: &priv.PublicKey, Format: "xml"}, nil)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	key, err := DefaultTrustedKey()
	require.NoError(t, err)
	assert.Equal(t, elliptic.P256(), key.Curve)

	priv := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	loaded, err := LoadPublicKey(path)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(&priv.PublicKey))

	_, err = ParsePublicKeyPEM([]byte("nope"))
	assert.ErrorIs(t, err, ErrNoPEMBlock)

	_, err = LoadPublicKey(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	privDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	_, err = ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER}))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" JWS ")
	require.NoError(t, err)
	assert.Equal(t, FormatJWS, f)
	_, err = ParseFormat("cms")
	assert.Error(t, err)
}

func flip(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[len(out)-1] ^= 0xff
	return out
}
