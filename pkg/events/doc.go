// Package events implements the exposure-logging pipeline: batching,
// deduplication and a durable failure queue.
//
// Exposure events record which value a user actually saw (gate checks,
// config reads, layer parameter accesses) so experiment analysis can
// attribute outcomes. Events accumulate in memory and flush when a size
// threshold is hit, on a fixed interval, or on termination.
//
// Repeated exposures with an identical shape (name, rule, reason, value) log
// at most once per cooldown window. This bounds event volume without losing
// first-occurrence fidelity; the seen-set resets on identity switch.
//
// A failed flush requeues its batch into a durable queue bounded by total
// event count and batch age. On the next start the persisted batches are
// replayed exactly once and the queue is cleared regardless of outcome, so
// retry volume can never amplify across restarts.
package events
