package signedfetch

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// trustedPEM is the publisher key compiled into every build. Changing it
// invalidates all deployed verifiers.
//
//go:embed trusted.pem
var trustedPEM []byte

var (
	ErrNoPEMBlock   = errors.New("no PEM block found")
	ErrInvalidKey   = errors.New("invalid key type, expected ECDSA P-256")
	ErrNoTrustedKey = errors.New("no trusted key configured")
)

// DefaultTrustedKey returns the embedded publisher key.
func DefaultTrustedKey() (*ecdsa.PublicKey, error) {
	return ParsePublicKeyPEM(trustedPEM)
}

// LoadPublicKey reads a PEM encoded SPKI public key from path.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading trusted key %q", path)
	}
	key, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "trusted key %q", path)
	}
	return key, nil
}

// ParsePublicKeyPEM parses a "PUBLIC KEY" PEM block holding an ECDSA P-256 key.
func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if block.Type != "PUBLIC KEY" {
		return nil, errors.Errorf("unsupported PEM type %q", block.Type)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, ErrInvalidKey
	}
	return key, nil
}
