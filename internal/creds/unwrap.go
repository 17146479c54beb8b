package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	b64Prefix = "b64:"
	encPrefix = "enc:v1:"
)

// Unwrap decodes a possibly-wrapped secret. Plain values pass through,
// "b64:" payloads are base64-decoded, and "enc:v1:" payloads are decrypted
// with AES-256-GCM using the hex-encoded unwrapKey. The GCM nonce is
// prepended to the ciphertext inside the base64 payload.
func Unwrap(secret, unwrapKey string) (string, error) {
	switch {
	case strings.HasPrefix(secret, b64Prefix):
		decoded, err := base64.StdEncoding.DecodeString(secret[len(b64Prefix):])
		if err != nil {
			return "", fmt.Errorf("unwrap b64 secret: %w", err)
		}
		return string(decoded), nil

	case strings.HasPrefix(secret, encPrefix):
		return decryptV1(secret[len(encPrefix):], unwrapKey)

	default:
		return secret, nil
	}
}

// WrapV1 encrypts a secret into the "enc:v1:" form. Used by provisioning
// tooling and the round-trip tests.
func WrapV1(plaintext, unwrapKey string, nonce []byte) (string, error) {
	gcm, err := gcmFor(unwrapKey)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(append([]byte{}, nonce...), sealed...)
	return encPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

func decryptV1(payload, unwrapKey string) (string, error) {
	gcm, err := gcmFor(unwrapKey)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("unwrap enc:v1 secret: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("unwrap enc:v1 secret: payload shorter than nonce")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unwrap enc:v1 secret: %w", err)
	}
	return string(plaintext), nil
}

func gcmFor(unwrapKey string) (cipher.AEAD, error) {
	if unwrapKey == "" {
		return nil, fmt.Errorf("enc:v1 secret present but no unwrap key configured")
	}
	key, err := hex.DecodeString(unwrapKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("unwrap key must be 64 hex characters (AES-256)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
