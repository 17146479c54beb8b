// Package model defines the typed entities the bridge hands to the
// assistant's chat and workflow subsystems.
//
// Conventions:
//   - Monetary quantities: float64 parsed from upstream decimal strings,
//     original text preserved where display fidelity matters
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Freshness: recomputed at read time from FetchedAtMS, never stored
package model
