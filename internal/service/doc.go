// Package service is the façade the assistant calls. Every operation walks
// the same pipeline: validate input, consult the per-user cache, take the
// user's rate-limit lane, check the endpoint's circuit, fetch with freshly
// resolved credentials, then fill the cache and persist best-effort. Errors
// come back as the api package's typed taxonomy; nothing here panics or
// leaks credentials into results or logs.
package service
