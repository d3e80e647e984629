// Package storage defines the pluggable persistence interfaces the SDK
// degrades gracefully around.
//
// Two collaborator interfaces exist:
//
//   - KV: a durable key-value store for the multi-user value cache, local
//     overrides and the undelivered-event failure queue. When no adapter is
//     supplied the SDK falls back to the in-memory Memory implementation and
//     simply loses persistence across restarts.
//   - UserPersistentStorage: an optional per-user adapter consulted only by
//     sticky experiment bucketing.
//
// A Redis-backed KV is provided for server-side hosts; any other backend can
// be plugged in by implementing the three-method interface.
//
// Persistence is strictly best-effort everywhere in the SDK: storage errors
// are logged and swallowed at the call site, never surfaced to the caller of
// an evaluation API.
package storage
