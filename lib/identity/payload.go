// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// AuthFields are the values joined into a signed authentication
// payload. Scopes are comma-joined in order.
type AuthFields struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAt   time.Time
	Token      string

	// Nonce selects the v2 payload when non-empty. Gateways supply
	// one in their connect challenge.
	Nonce string
}

// BuildAuthPayload joins fields into the pipe-separated string that is
// signed:
//
//	v1|deviceId|clientId|clientMode|role|scopes|signedAtMs|token
//	v2|deviceId|clientId|clientMode|role|scopes|signedAtMs|token|nonce
func BuildAuthPayload(fields AuthFields) string {
	version := "v1"
	if fields.Nonce != "" {
		version = "v2"
	}
	parts := []string{
		version,
		fields.DeviceID,
		fields.ClientID,
		fields.ClientMode,
		fields.Role,
		strings.Join(fields.Scopes, ","),
		strconv.FormatInt(fields.SignedAt.UnixMilli(), 10),
		fields.Token,
	}
	if fields.Nonce != "" {
		parts = append(parts, fields.Nonce)
	}
	return strings.Join(parts, "|")
}

// Sign returns the Ed25519 signature of payload, base64url without
// padding. A private key of the wrong size, or one whose embedded public
// half does not derive from its seed, is rejected.
func Sign(privateKey ed25519.PrivateKey, payload string) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("identity: private key is %d bytes, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	derived := ed25519.NewKeyFromSeed(privateKey.Seed())
	if !bytes.Equal(derived[ed25519.SeedSize:], privateKey[ed25519.SeedSize:]) {
		return "", fmt.Errorf("identity: private key public half does not match its seed")
	}
	signature := ed25519.Sign(privateKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(signature), nil
}

// Sign signs payload with this identity's private key.
func (id *Identity) Sign(payload string) (string, error) {
	return Sign(id.PrivateKey, payload)
}

// Verify checks a base64url signature produced by Sign against a raw
// public key, also base64url. It is what the relay does with the
// register payload, and exists here for tests and tooling.
func Verify(publicKeyBase64URL, payload, signatureBase64URL string) error {
	publicKey, err := base64.RawURLEncoding.DecodeString(publicKeyBase64URL)
	if err != nil {
		return fmt.Errorf("identity: decoding public key: %w", err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("identity: public key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	signature, err := base64.RawURLEncoding.DecodeString(signatureBase64URL)
	if err != nil {
		return fmt.Errorf("identity: decoding signature: %w", err)
	}
	if !ed25519.Verify(publicKey, []byte(payload), signature) {
		return fmt.Errorf("identity: signature does not verify")
	}
	return nil
}

// SignedDevice is the device block sent alongside a registration or
// connect request: the public key, the exact payload string that was
// signed, and its signature. Nothing else about the key pair leaves the
// machine.
type SignedDevice struct {
	PublicKey string `json:"publicKey"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// SignDevice builds the payload for fields, signs it and returns the
// device block. fields.DeviceID is overwritten with this identity's id.
func (id *Identity) SignDevice(fields AuthFields) (SignedDevice, error) {
	fields.DeviceID = id.DeviceID
	payload := BuildAuthPayload(fields)
	signature, err := id.Sign(payload)
	if err != nil {
		return SignedDevice{}, err
	}
	return SignedDevice{
		PublicKey: id.PublicKeyRawBase64URL(),
		Payload:   payload,
		Signature: signature,
	}, nil
}

// AuthorizedKey returns the public key in OpenSSH authorized_keys form
// and its SHA256 fingerprint, for display by the identity command.
func (id *Identity) AuthorizedKey() (authorizedKey, fingerprint string, err error) {
	sshKey, err := ssh.NewPublicKey(id.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("identity: converting public key: %w", err)
	}
	authorizedKey = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshKey)))
	return authorizedKey, ssh.FingerprintSHA256(sshKey), nil
}
