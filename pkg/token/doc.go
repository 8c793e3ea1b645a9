// Package token provides helpers for handling bearer credentials that
// must never appear in logs or output.
//
//   - Fingerprint: short, stable, non-reversible identifier for a token
//   - Mask: display form keeping only the last few characters
//   - Generate: random opaque tokens (used by the fake Auth API)
//   - Equal: constant-time comparison
package token
