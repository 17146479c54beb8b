// Package metrics exposes Prometheus instrumentation for the bridge and an
// in-process sliding-window alert engine. Counters and histograms feed the
// /metrics endpoint; the alert engine watches recent outcomes and fires
// log-level alerts on auth-failure bursts, provider-failure bursts, and p95
// latency breaches, with a cooldown so a sustained incident alerts once.
package metrics
