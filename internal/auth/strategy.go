// Package auth builds per-request authentication headers for the Coinbase
// API. Two signing schemes exist upstream: CDP keys sign an ES256 JWT, legacy
// keys sign an HMAC-SHA256 digest. The scheme is chosen from the shape of the
// secret, so callers never branch on key type.
package auth

import (
	"fmt"
	"strings"
	"time"
)

// Strategy builds signed authentication headers for one request.
type Strategy interface {
	// Name identifies the scheme ("jwt" or "hmac") for logging.
	Name() string

	// BuildHeaders returns the headers to attach. Headers are ephemeral and
	// computed fresh per request; they must never be persisted.
	BuildHeaders(method, path, rawQuery, body string, ts time.Time) (map[string]string, error)
}

// Select returns the strategy matching the secret's shape: JWT when the
// secret decodes to an EC private key, HMAC otherwise. host is the upstream
// hostname used in the JWT uri claim. A secret that announces itself as key
// material but cannot be parsed is rejected rather than silently treated as
// an HMAC secret.
func Select(apiKey, apiSecret, host string) (Strategy, error) {
	key, err := ParseECPrivateKey(apiSecret)
	if err == nil {
		return &jwtStrategy{apiKey: apiKey, key: key, host: host}, nil
	}
	if strings.Contains(apiSecret, "-----BEGIN") {
		return nil, fmt.Errorf("secret looks like a PEM key but is unusable: %w", err)
	}
	return &hmacStrategy{apiKey: apiKey, secret: hmacSecretBytes(apiSecret)}, nil
}
