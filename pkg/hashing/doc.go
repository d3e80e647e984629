// Package hashing provides the deterministic digests used throughout the SDK:
// wire-level name obfuscation, rule bucketing, and versioned per-identity
// cache keys.
//
// Three name-hashing algorithms are supported (none, djb2, sha256) because
// the config service negotiates the scheme per request and a local cache may
// hold entries written under any of them.
//
// Cache keys come in three historical versions. Reads probe newest-first and
// writes always land on the newest scheme, which amortizes key migration
// across normal traffic instead of requiring a blocking upgrade pass.
package hashing
