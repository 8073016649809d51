// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// fileVersion is written into the identity file so a future format can
// be recognized.
const fileVersion = 1

// Identity is a device key pair and the fingerprint derived from it.
type Identity struct {
	// DeviceID is the hex SHA-256 of the raw public key.
	DeviceID string

	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	// CreatedAt is when the key pair was generated.
	CreatedAt time.Time
}

// identityFile is the on-disk JSON form. Keys are PEM-encoded: SPKI for
// the public key, PKCS#8 for the private key.
type identityFile struct {
	Version    int    `json:"version"`
	DeviceID   string `json:"deviceId"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	CreatedAt  int64  `json:"createdAt"`
}

// DeviceIDFromPublicKey returns the device id for a raw public key.
func DeviceIDFromPublicKey(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// Generate creates a new identity from crypto/rand.
func Generate(now time.Time) (*Identity, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating key pair: %w", err)
	}
	return &Identity{
		DeviceID:   DeviceIDFromPublicKey(publicKey),
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		CreatedAt:  time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// LoadOrCreate returns the identity persisted at path, generating and
// persisting a fresh one when the file is missing or cannot be parsed.
// A nil logger uses slog.Default().
func LoadOrCreate(path string, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := Load(path)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no device identity found, generating", "path", path)
	} else {
		logger.Warn("device identity unreadable, regenerating", "path", path, "error", err)
	}

	fresh, err := Generate(time.Now())
	if err != nil {
		return nil, err
	}
	if err := fresh.Save(path); err != nil {
		return nil, err
	}
	logger.Info("device identity created", "path", path, "device_id", fresh.DeviceID)
	return fresh, nil
}

// Load reads and validates the identity file at path. The device id is
// recomputed from the stored public key. The returned error wraps
// os.ErrNotExist when the file is absent.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Identity, error) {
	var stored identityFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("identity: parsing file: %w", err)
	}
	if stored.PublicKey == "" || stored.PrivateKey == "" {
		return nil, errors.New("identity: file is missing key material")
	}

	publicKey, err := decodePublicKey(stored.PublicKey)
	if err != nil {
		return nil, err
	}
	privateKey, err := decodePrivateKey(stored.PrivateKey)
	if err != nil {
		return nil, err
	}
	derived, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok || !bytes.Equal(derived, publicKey) {
		return nil, errors.New("identity: private key does not match public key")
	}

	createdAt := time.UnixMilli(stored.CreatedAt).UTC()
	if stored.CreatedAt == 0 {
		createdAt = time.Time{}
	}
	return &Identity{
		DeviceID:   DeviceIDFromPublicKey(publicKey),
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		CreatedAt:  createdAt,
	}, nil
}

// Save writes the identity to path atomically with mode 0600, creating
// the parent directory with mode 0700 if needed.
func (id *Identity) Save(path string) error {
	publicPEM, err := encodePublicKey(id.PublicKey)
	if err != nil {
		return err
	}
	privatePEM, err := encodePrivateKey(id.PrivateKey)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(identityFile{
		Version:    fileVersion,
		DeviceID:   DeviceIDFromPublicKey(id.PublicKey),
		PublicKey:  publicPEM,
		PrivateKey: privatePEM,
		CreatedAt:  id.CreatedAt.UnixMilli(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshaling file: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: creating directory: %w", err)
	}
	return writeFileAtomic(path, data)
}

// PublicKeyRawBase64URL returns the raw 32-byte public key, base64url
// without padding, as it is sent on the wire.
func (id *Identity) PublicKeyRawBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(id.PublicKey)
}

// writeFileAtomic writes to a temporary file in the same directory,
// fsyncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("identity: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()

	if err := temporary.Chmod(0600); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("identity: restricting temporary file: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("identity: writing temporary file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("identity: syncing temporary file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("identity: closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("identity: renaming file into place: %w", err)
	}
	return nil
}

func encodePublicKey(publicKey ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("identity: encoding public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func encodePrivateKey(privateKey ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("identity: encoding private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func decodePublicKey(encoded string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("identity: public key is not a PEM PUBLIC KEY block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing public key: %w", err)
	}
	publicKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: public key is %T, want ed25519", parsed)
	}
	return publicKey, nil
}

func decodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("identity: private key is not a PEM PRIVATE KEY block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing private key: %w", err)
	}
	privateKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: private key is %T, want ed25519", parsed)
	}
	return privateKey, nil
}
