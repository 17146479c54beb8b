package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
)

// jwtTTL is the validity window Coinbase expects on CDP-signed tokens.
const jwtTTL = 120 * time.Second

// jwtStrategy signs an ES256 JWT per request (Coinbase CDP scheme).
type jwtStrategy struct {
	apiKey string
	key    *ecdsa.PrivateKey
	host   string
}

func (s *jwtStrategy) Name() string { return "jwt" }

type jwtHeader struct {
	Alg   string `json:"alg"`
	Kid   string `json:"kid"`
	Typ   string `json:"typ"`
	Nonce string `json:"nonce"`
}

type jwtClaims struct {
	Iss string `json:"iss"`
	Sub string `json:"sub"`
	Nbf int64  `json:"nbf"`
	Exp int64  `json:"exp"`
	URI string `json:"uri"`
}

func (s *jwtStrategy) BuildHeaders(method, path, rawQuery, _ string, ts time.Time) (map[string]string, error) {
	uri := method + " " + s.host + path
	if rawQuery != "" {
		uri += "?" + rawQuery
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := jwtHeader{Alg: "ES256", Kid: s.apiKey, Typ: "JWT", Nonce: hex.EncodeToString(nonce)}
	claims := jwtClaims{
		Iss: "cdp",
		Sub: s.apiKey,
		Nbf: ts.Unix(),
		Exp: ts.Add(jwtTTL).Unix(),
		URI: uri,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal jwt header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("marshal jwt claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	sig, err := signES256(s.key, []byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	token := signingInput + "." + enc.EncodeToString(sig)
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// signES256 produces a JOSE signature: big-endian r and s, 32 bytes each.
func signES256(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// ParseECPrivateKey parses an EC private key from PEM text or from a
// base64-encoded PKCS8/SEC1 DER blob. Secrets stored in JSON often carry
// literal "\n" sequences in place of newlines; both forms are accepted.
func ParseECPrivateKey(secret string) (*ecdsa.PrivateKey, error) {
	secret = strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n"))

	if strings.Contains(secret, "-----BEGIN") {
		block, _ := pem.Decode([]byte(secret))
		if block == nil {
			return nil, fmt.Errorf("malformed PEM block")
		}
		return parseECDER(block.Bytes)
	}

	der, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("secret is neither PEM nor base64 DER")
	}
	return parseECDER(der)
}

func parseECDER(der []byte) (*ecdsa.PrivateKey, error) {
	// PKCS#8 first (newer format)
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an EC private key")
		}
		return ecKey, nil
	}

	// Fall back to SEC1 (older format)
	ecKey, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	return ecKey, nil
}
