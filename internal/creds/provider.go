package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/config"
)

// Credentials is an immutable snapshot of one user's API key pair.
type Credentials struct {
	APIKey          string
	APISecret       string
	Connected       bool
	BaseURLOverride string
}

// KeyPrefix returns a loggable 4-character prefix of the API key.
func (c *Credentials) KeyPrefix() string {
	if len(c.APIKey) <= 4 {
		return c.APIKey
	}
	return c.APIKey[:4] + "…"
}

// coinbaseSection mirrors the integrations config file shape.
type coinbaseSection struct {
	Connected bool   `json:"connected"`
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
	BaseURL   string `json:"baseUrl,omitempty"`
}

type integrationsFile struct {
	Coinbase *coinbaseSection `json:"coinbase"`
}

// cachedFile is one parsed config file plus its invalidation markers.
type cachedFile struct {
	creds    *Credentials // nil when the file has no coinbase section
	mtime    time.Time
	loadedAt time.Time
}

// Provider resolves credentials with per-(user, path) caching.
type Provider struct {
	cfg    config.CredentialsConfig
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedFile

	now func() time.Time
}

// NewProvider creates a Provider.
func NewProvider(cfg config.CredentialsConfig, logger zerolog.Logger) *Provider {
	return &Provider{
		cfg:    cfg,
		logger: logger.With().Str("component", "creds").Logger(),
		cache:  make(map[string]cachedFile),
		now:    time.Now,
	}
}

// Resolve returns the user's credentials, or nil when no config file carries
// a coinbase section. A file that exists but lacks a usable key/secret pair
// yields Credentials{Connected: false}, distinguishing "present but invalid"
// from "absent".
func (p *Provider) Resolve(userContextID string) (*Credentials, error) {
	for _, path := range p.candidatePaths(userContextID) {
		creds, err := p.loadCached(userContextID, path)
		if err != nil {
			p.logger.Warn().Err(err).Str("user", userContextID).Str("path", path).
				Msg("skipping unreadable credentials file")
			continue
		}
		if creds != nil {
			return creds, nil
		}
	}
	return nil, nil
}

// Invalidate drops all cached entries for a user. Called when the user's
// integration settings change.
func (p *Provider) Invalidate(userContextID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := userContextID + "|"
	for key := range p.cache {
		if strings.HasPrefix(key, prefix) {
			delete(p.cache, key)
		}
	}
}

// candidatePaths returns the resolution order: state, legacy, global.
func (p *Provider) candidatePaths(userContextID string) []string {
	var paths []string
	if p.cfg.StateDir != "" {
		paths = append(paths, filepath.Join(p.cfg.StateDir, userContextID, "integrations.json"))
	}
	if p.cfg.LegacyDir != "" {
		paths = append(paths, filepath.Join(p.cfg.LegacyDir, userContextID+".json"))
	}
	if p.cfg.GlobalPath != "" {
		paths = append(paths, p.cfg.GlobalPath)
	}
	return paths
}

// loadCached returns the parsed file, re-reading it when the mtime changed or
// the cached entry outlived its TTL. Returns (nil, nil) when the file is
// absent or carries no coinbase section.
func (p *Provider) loadCached(userContextID, path string) (*Credentials, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cacheKey := userContextID + "|" + path
	now := p.now()

	p.mu.Lock()
	cached, ok := p.cache[cacheKey]
	p.mu.Unlock()

	if ok && cached.mtime.Equal(info.ModTime()) && now.Sub(cached.loadedAt) < p.cfg.CacheTTL {
		return cached.creds, nil
	}

	creds, err := p.loadFile(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[cacheKey] = cachedFile{creds: creds, mtime: info.ModTime(), loadedAt: now}
	p.mu.Unlock()

	if creds != nil {
		p.logger.Debug().Str("user", userContextID).Str("path", path).
			Bool("connected", creds.Connected).Str("key_prefix", creds.KeyPrefix()).
			Msg("credentials loaded")
	}
	return creds, nil
}

// loadFile parses and unwraps one config file.
func (p *Provider) loadFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file integrationsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if file.Coinbase == nil {
		return nil, nil
	}

	section := file.Coinbase
	apiKey, keyErr := Unwrap(section.APIKey, p.cfg.UnwrapKey)
	apiSecret, secretErr := Unwrap(section.APISecret, p.cfg.UnwrapKey)

	usable := keyErr == nil && secretErr == nil &&
		strings.TrimSpace(apiKey) != "" && strings.TrimSpace(apiSecret) != ""
	if !usable {
		return &Credentials{Connected: false}, nil
	}

	return &Credentials{
		APIKey:          apiKey,
		APISecret:       apiSecret,
		Connected:       section.Connected,
		BaseURLOverride: section.BaseURL,
	}, nil
}
