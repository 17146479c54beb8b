package creds

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaris-ai/coinbridge/internal/config"
)

const testUnwrapKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.CredentialsConfig{
		StateDir:   filepath.Join(root, "state"),
		LegacyDir:  filepath.Join(root, "legacy"),
		GlobalPath: filepath.Join(root, "global.json"),
		CacheTTL:   time.Minute,
		UnwrapKey:  testUnwrapKey,
	}
	return NewProvider(cfg, zerolog.Nop()), root
}

func TestResolve_StateConfigWins(t *testing.T) {
	p, root := newTestProvider(t)

	writeJSON(t, filepath.Join(root, "state", "user-1", "integrations.json"),
		`{"coinbase":{"connected":true,"apiKey":"state-key","apiSecret":"state-secret"}}`)
	writeJSON(t, filepath.Join(root, "legacy", "user-1.json"),
		`{"coinbase":{"connected":true,"apiKey":"legacy-key","apiSecret":"legacy-secret"}}`)

	creds, err := p.Resolve("user-1")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "state-key", creds.APIKey)
	assert.True(t, creds.Connected)
}

func TestResolve_FallsBackLegacyThenGlobal(t *testing.T) {
	p, root := newTestProvider(t)

	writeJSON(t, filepath.Join(root, "legacy", "user-2.json"),
		`{"coinbase":{"connected":true,"apiKey":"legacy-key","apiSecret":"s"}}`)
	writeJSON(t, filepath.Join(root, "global.json"),
		`{"coinbase":{"connected":true,"apiKey":"global-key","apiSecret":"s"}}`)

	creds, err := p.Resolve("user-2")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "legacy-key", creds.APIKey)

	// Different user has no state or legacy file; global applies.
	creds, err = p.Resolve("user-3")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "global-key", creds.APIKey)
}

func TestResolve_AbsentIsNil(t *testing.T) {
	p, _ := newTestProvider(t)

	creds, err := p.Resolve("nobody")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestResolve_PresentButInvalidIsDisconnected(t *testing.T) {
	p, root := newTestProvider(t)

	tests := []struct {
		name    string
		content string
	}{
		{"empty key", `{"coinbase":{"connected":true,"apiKey":"","apiSecret":"s"}}`},
		{"missing secret", `{"coinbase":{"connected":true,"apiKey":"k"}}`},
		{"undecodable wrapped secret", `{"coinbase":{"connected":true,"apiKey":"k","apiSecret":"b64:%%%"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeJSON(t, filepath.Join(root, "state", "u", "integrations.json"), tt.content)
			p.Invalidate("u")

			creds, err := p.Resolve("u")
			require.NoError(t, err)
			require.NotNil(t, creds, "present-but-invalid must not collapse to absent")
			assert.False(t, creds.Connected)
			assert.Empty(t, creds.APIKey)
		})
	}
}

func TestResolve_UnwrapsSecrets(t *testing.T) {
	p, root := newTestProvider(t)

	wrapped := "b64:" + base64.StdEncoding.EncodeToString([]byte("plain-secret"))
	writeJSON(t, filepath.Join(root, "state", "u-b64", "integrations.json"),
		`{"coinbase":{"connected":true,"apiKey":"k","apiSecret":"`+wrapped+`"}}`)

	creds, err := p.Resolve("u-b64")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "plain-secret", creds.APISecret)

	nonce, err := hex.DecodeString("0102030405060708090a0b0c")
	require.NoError(t, err)
	encWrapped, err := WrapV1("sealed-secret", testUnwrapKey, nonce)
	require.NoError(t, err)
	writeJSON(t, filepath.Join(root, "state", "u-enc", "integrations.json"),
		`{"coinbase":{"connected":true,"apiKey":"k","apiSecret":"`+encWrapped+`"}}`)

	creds, err = p.Resolve("u-enc")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "sealed-secret", creds.APISecret)
}

func TestResolve_MtimeChangeReloads(t *testing.T) {
	p, root := newTestProvider(t)
	path := filepath.Join(root, "state", "u", "integrations.json")

	writeJSON(t, path, `{"coinbase":{"connected":true,"apiKey":"old","apiSecret":"s"}}`)
	creds, err := p.Resolve("u")
	require.NoError(t, err)
	assert.Equal(t, "old", creds.APIKey)

	writeJSON(t, path, `{"coinbase":{"connected":true,"apiKey":"new","apiSecret":"s"}}`)
	// Coarse mtime resolution on some filesystems; force it forward.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	creds, err = p.Resolve("u")
	require.NoError(t, err)
	assert.Equal(t, "new", creds.APIKey)
}

func TestResolve_TTLExpiryReloads(t *testing.T) {
	p, root := newTestProvider(t)
	path := filepath.Join(root, "state", "u", "integrations.json")

	writeJSON(t, path, `{"coinbase":{"connected":true,"apiKey":"old","apiSecret":"s"}}`)

	base := time.Now()
	p.now = func() time.Time { return base }
	_, err := p.Resolve("u")
	require.NoError(t, err)

	// Replace content but keep the original mtime so only the TTL can
	// trigger the reload.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"coinbase":{"connected":true,"apiKey":"new","apiSecret":"s"}}`), 0o600))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	creds, err := p.Resolve("u")
	require.NoError(t, err)
	assert.Equal(t, "old", creds.APIKey, "within TTL and unchanged mtime serves the cache")

	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	creds, err = p.Resolve("u")
	require.NoError(t, err)
	assert.Equal(t, "new", creds.APIKey, "TTL expiry forces a re-read")
}

func TestInvalidate_DropsOnlyThatUser(t *testing.T) {
	p, root := newTestProvider(t)

	pathA := filepath.Join(root, "state", "a", "integrations.json")
	writeJSON(t, pathA, `{"coinbase":{"connected":true,"apiKey":"a1","apiSecret":"s"}}`)
	writeJSON(t, filepath.Join(root, "state", "b", "integrations.json"),
		`{"coinbase":{"connected":true,"apiKey":"b1","apiSecret":"s"}}`)

	base := time.Now()
	p.now = func() time.Time { return base }
	_, err := p.Resolve("a")
	require.NoError(t, err)
	_, err = p.Resolve("b")
	require.NoError(t, err)

	// Swap content without touching mtime: only an explicit Invalidate can
	// surface the change before the TTL lapses.
	info, err := os.Stat(pathA)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pathA, []byte(`{"coinbase":{"connected":true,"apiKey":"a2","apiSecret":"s"}}`), 0o600))
	require.NoError(t, os.Chtimes(pathA, info.ModTime(), info.ModTime()))

	p.Invalidate("a")

	creds, err := p.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.APIKey)

	p.mu.Lock()
	_, bStillCached := p.cache["b|"+filepath.Join(root, "state", "b", "integrations.json")]
	p.mu.Unlock()
	assert.True(t, bStillCached, "other users' entries survive")
}

func TestKeyPrefix_NeverLeaksFullKey(t *testing.T) {
	c := &Credentials{APIKey: "organizations/abc123/apiKeys/def456"}
	assert.Equal(t, "orga…", c.KeyPrefix())

	short := &Credentials{APIKey: "ab"}
	assert.Equal(t, "ab", short.KeyPrefix())
}
