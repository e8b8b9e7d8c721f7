package signedfetch

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/haukened/exposuregate/internal/domain"
)

// Format selects the envelope layout the publisher signs with.
type Format string

const (
	// FormatJSON is {"payload": base64, "signature": base64 ASN.1 DER}.
	FormatJSON Format = "json"
	// FormatJWS is a compact ES256 JWS.
	FormatJWS Format = "jws"
)

// ParseFormat validates an envelope format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJWS:
		return f, nil
	default:
		return "", errors.Errorf("unknown envelope format %q", s)
	}
}

// SignedDocument is the JSON envelope. Payload holds the exact signed bytes.
type SignedDocument struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

// open verifies body and returns the payload. On any failure the returned
// slice is nil and the error wraps domain.ErrSignatureInvalid.
func open(format Format, body []byte, key *ecdsa.PublicKey) ([]byte, error) {
	if key == nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, ErrNoTrustedKey.Error())
	}
	switch format {
	case FormatJSON:
		return openJSON(body, key)
	case FormatJWS:
		return openJWS(body, key)
	default:
		return nil, errors.Wrapf(domain.ErrSignatureInvalid, "unknown envelope format %q", format)
	}
}

func openJSON(body []byte, key *ecdsa.PublicKey) ([]byte, error) {
	var doc SignedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed envelope")
	}
	if len(doc.Payload) == 0 || len(doc.Signature) == 0 {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "envelope missing payload or signature")
	}
	hash := sha256.Sum256(doc.Payload)
	if !ecdsa.VerifyASN1(key, hash[:], doc.Signature) {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "signature mismatch")
	}
	return doc.Payload, nil
}

var jwsParser = jwt.NewParser()

func openJWS(body []byte, key *ecdsa.PublicKey) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(string(body)), ".")
	if len(parts) != 3 {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed compact JWS")
	}
	rawHeader, err := jwsParser.DecodeSegment(parts[0])
	if err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed JWS header")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed JWS header")
	}
	if header.Alg != jwt.SigningMethodES256.Alg() {
		return nil, errors.Wrapf(domain.ErrSignatureInvalid, "unexpected JWS alg %q", header.Alg)
	}
	sig, err := jwsParser.DecodeSegment(parts[2])
	if err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed JWS signature")
	}
	if err := jwt.SigningMethodES256.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, err.Error())
	}
	payload, err := jwsParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "malformed JWS payload")
	}
	return payload, nil
}

// Seal signs payload with priv and wraps it in the given envelope format.
// It is the publisher-side counterpart of Fetcher.Fetch.
func Seal(format Format, payload []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("no private key")
	}
	switch format {
	case FormatJSON:
		hash := sha256.Sum256(payload)
		sig, err := ecdsa.SignASN1(rand.Reader, priv, hash[:])
		if err != nil {
			return nil, errors.Wrap(err, "sign payload")
		}
		return json.Marshal(SignedDocument{Payload: payload, Signature: sig})
	case FormatJWS:
		enc := base64.RawURLEncoding
		signing := enc.EncodeToString([]byte(`{"alg":"ES256","typ":"JOSE"}`)) + "." + enc.EncodeToString(payload)
		sig, err := jwt.SigningMethodES256.Sign(signing, priv)
		if err != nil {
			return nil, errors.Wrap(err, "sign payload")
		}
		return []byte(signing + "." + enc.EncodeToString(sig)), nil
	default:
		return nil, errors.Errorf("unknown envelope format %q", format)
	}
}
