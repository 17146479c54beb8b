package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strconv"
	"time"
)

// hmacStrategy signs the legacy CB-ACCESS header triple.
type hmacStrategy struct {
	apiKey string
	secret []byte
}

func (s *hmacStrategy) Name() string { return "hmac" }

func (s *hmacStrategy) BuildHeaders(method, path, rawQuery, body string, ts time.Time) (map[string]string, error) {
	pathWithQuery := path
	if rawQuery != "" {
		pathWithQuery += "?" + rawQuery
	}

	timestamp := strconv.FormatInt(ts.Unix(), 10)

	// Prehash format fixed by the upstream: timestamp + METHOD + path + body
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp + method + pathWithQuery + body))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"CB-ACCESS-KEY":       s.apiKey,
		"CB-ACCESS-SIGN":      signature,
		"CB-ACCESS-TIMESTAMP": timestamp,
	}, nil
}

var base64Shape = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// hmacSecretBytes base64-decodes the secret when it looks like base64,
// otherwise uses the raw UTF-8 bytes.
func hmacSecretBytes(secret string) []byte {
	if len(secret) >= 16 && len(secret)%4 == 0 && base64Shape.MatchString(secret) {
		if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil {
			return decoded
		}
	}
	return []byte(secret)
}
