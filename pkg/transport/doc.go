// Package transport issues calls to the remote config and logging endpoints
// with the failure-handling the SDK's offline-first model needs.
//
// # Timeout racing
//
// FetchValues races the real call against a caller-supplied timeout. Losing
// the race is not an error condition for the SDK: the caller proceeds on
// cached or default values immediately, while the underlying request keeps
// running detached from the caller's context. If it eventually succeeds, the
// late response is delivered on a secondary channel so the cache still picks
// up fresh values. A slow network degrades latency, never freshness forever.
//
// # Retries and rate limiting
//
// Only a fixed allow-list of transient statuses (5xx family, 408, and a few
// proxy codes) is retried, with exponential backoff doubling from a base
// interval. A per-URL in-flight ceiling fails requests fast once reached so
// retry storms cannot amplify concurrency without bound.
//
// # Teardown delivery
//
// SendBeacon is the fire-and-forget path used while the process is
// terminating: one short-deadline POST whose response is discarded. When
// even that fails, the payload belongs in the event logger's durable failure
// queue, not on the floor.
package transport
