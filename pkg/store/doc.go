// Package store implements the SDK's versioned local cache of evaluation
// results: a bounded multi-user value cache with explicit eviction, delta
// merging, sticky experiment bucketing, local overrides and lazy cache-key
// migration.
//
// # Cache model
//
// One entry exists per distinct (stable ID, user identity, SDK key) tuple,
// addressed by a versioned hash key (see package hashing). The persisted
// cache holds at most a configurable number of identities (default 10);
// beyond that, entries with the oldest server sync time are evicted first.
// The active identity is always written last and is exempt from eviction.
//
// # Sticky bucketing
//
// When a fetch reports the user actively enrolled in an experiment or layer,
// the current value is persisted as sticky. Later reads without the
// latest-value flag return the sticky value while the experiment stays
// active; once it turns inactive the sticky record is cleared and the fresh
// value flows through. Device-scoped experiments stick independently of the
// acting user.
//
// # Ordering
//
// Fetch completions apply in the order their requests were issued, not the
// order they complete: BeginFetch hands out a per-identity epoch and
// ApplyFetch discards completions whose epoch has been superseded. Switching
// identities never cancels an in-flight call: its result lands under the
// identity that issued it.
//
// # Failure policy
//
// All persistence is best-effort. Storage errors are logged and swallowed,
// corrupted records are removed, and evaluation continues on in-memory
// state; no storage failure ever reaches a caller.
package store
