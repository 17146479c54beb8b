// Package api implements the Coinbase REST client: request signing via an
// auth strategy, a hostname allowlist applied to both requests and redirects,
// retry with exponential backoff and jitter, and a typed error taxonomy that
// callers branch on instead of raw status codes.
package api
