// Package keys handles the raw P-256 key files used for signing: a 32-byte
// private scalar and a 65-byte uncompressed public point.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// Key file sizes.
const (
	// PrivateKeySize is the raw big-endian P-256 scalar length.
	PrivateKeySize = 32
	// PublicKeySize is the uncompressed point length: 0x04 tag plus two
	// 32-byte coordinates.
	PublicKeySize = 65
)

// Default key file names written by GenerateKeyPair.
const (
	PrivateKeyFile = "private.key"
	PublicKeyFile  = "public.key"
)

// certificateSidecar is an optional DER certificate stored next to the
// private key. When present it is embedded in the SignedData container.
const certificateSidecar = "certificate.der"

// Common errors.
var (
	ErrInvalidKey = errors.New("invalid key material")
)

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return key, nil
}

// MarshalPrivateKey serializes the private scalar as 32 raw big-endian
// bytes.
func MarshalPrivateKey(key *ecdsa.PrivateKey) []byte {
	out := make([]byte, PrivateKeySize)
	key.D.FillBytes(out)
	return out
}

// MarshalPublicKey serializes the public point uncompressed: 0x04 followed
// by the X and Y coordinates.
func MarshalPublicKey(key *ecdsa.PublicKey) []byte {
	out := make([]byte, PublicKeySize)
	out[0] = 0x04
	key.X.FillBytes(out[1:33])
	key.Y.FillBytes(out[33:65])
	return out
}

// ParsePrivateKey reconstructs a P-256 private key from its 32 raw scalar
// bytes.
func ParsePrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrInvalidKey, len(data), PrivateKeySize)
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(data)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidKey)
	}

	key := &ecdsa.PrivateKey{D: d}
	key.Curve = curve
	key.X, key.Y = curve.ScalarBaseMult(data)
	return key, nil
}

// ParsePublicKey reconstructs a P-256 public key from its 65-byte
// uncompressed point encoding.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d", ErrInvalidKey, len(data), PublicKeySize)
	}
	if data[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected uncompressed point tag 0x04, got 0x%02X", ErrInvalidKey, data[0])
	}

	curve := elliptic.P256()
	x := new(big.Int).SetBytes(data[1:33])
	y := new(big.Int).SetBytes(data[33:65])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidKey)
	}

	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// LoadPrivateKey reads and parses a raw private key file.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// LoadPublicKey reads and parses a raw public key file.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// WriteKeyPair writes private.key and public.key into dir.
func WriteKeyPair(dir string, key *ecdsa.PrivateKey) (privatePath, publicPath string, err error) {
	privatePath = filepath.Join(dir, PrivateKeyFile)
	publicPath = filepath.Join(dir, PublicKeyFile)

	if err := os.WriteFile(privatePath, MarshalPrivateKey(key), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", privatePath, err)
	}
	if err := os.WriteFile(publicPath, MarshalPublicKey(&key.PublicKey), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", publicPath, err)
	}

	return privatePath, publicPath, nil
}

// LoadCertificateSidecar looks for certificate.der next to keyPath and
// returns its DER bytes, or nil when the sidecar does not exist. A sidecar
// that exists but does not parse as a certificate is an error.
func LoadCertificateSidecar(keyPath string) ([]byte, error) {
	path := filepath.Join(filepath.Dir(keyPath), certificateSidecar)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate %s: %w", path, err)
	}

	if _, err := x509.ParseCertificate(data); err != nil {
		return nil, fmt.Errorf("%s is not a DER certificate: %w", path, err)
	}

	return data, nil
}
