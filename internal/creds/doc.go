// Package creds resolves per-user Coinbase API credentials from file-backed
// configuration. Resolution walks user state config, then user legacy config,
// then the global fallback; each file is cached per (user, path) and
// re-parsed when its mtime changes, with a bounded TTL as a secondary guard
// against missed filesystem events.
//
// Secrets may be stored wrapped ("b64:" or "enc:v1:" prefixes) and are
// unwrapped before being handed to callers. Plaintext secrets never reach
// the logs.
package creds
