package creds

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap_PlainPassesThrough(t *testing.T) {
	got, err := Unwrap("just-a-secret", "")
	require.NoError(t, err)
	assert.Equal(t, "just-a-secret", got)
}

func TestUnwrap_B64(t *testing.T) {
	wrapped := "b64:" + base64.StdEncoding.EncodeToString([]byte("inner"))
	got, err := Unwrap(wrapped, "")
	require.NoError(t, err)
	assert.Equal(t, "inner", got)

	_, err = Unwrap("b64:!!!not base64!!!", "")
	assert.Error(t, err)
}

func TestUnwrap_EncV1RoundTrip(t *testing.T) {
	nonce := []byte("0123456789ab") // 12 bytes, GCM standard nonce size
	wrapped, err := WrapV1("top-secret", testUnwrapKey, nonce)
	require.NoError(t, err)

	got, err := Unwrap(wrapped, testUnwrapKey)
	require.NoError(t, err)
	assert.Equal(t, "top-secret", got)
}

func TestUnwrap_EncV1Errors(t *testing.T) {
	nonce := []byte("0123456789ab")
	wrapped, err := WrapV1("x", testUnwrapKey, nonce)
	require.NoError(t, err)

	_, err = Unwrap(wrapped, "")
	assert.Error(t, err, "no unwrap key configured")

	otherKey := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	_, err = Unwrap(wrapped, otherKey)
	assert.Error(t, err, "wrong key fails authentication")

	_, err = Unwrap("enc:v1:AA==", testUnwrapKey)
	assert.Error(t, err, "payload shorter than nonce")

	_, err = Unwrap(wrapped, "deadbeef")
	assert.Error(t, err, "key must be 32 bytes")
}
