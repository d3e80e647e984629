// Package client is the top-level feature flag and experimentation SDK for
// end-user applications.
//
// The client package ties together the cached value store, the network
// transport, the exposure logger and the optional offline evaluator behind a
// single handle. Evaluation is designed to never fail: every gate, config,
// experiment and layer read returns a usable value immediately, with a
// Reason string explaining where that value came from (fresh network data,
// a cached snapshot, a sticky assignment, a bootstrap payload, a local
// override, or a default because the name is unknown).
//
// # Architecture
//
// A Client owns four collaborating components:
//
// 1. Store - versioned multi-user value cache with sticky bucketing
// 2. Transport - fetches values and delivers event batches with retry
// 3. Events - batching exposure logger with dedupe and a durable failure queue
// 4. Evaluator - optional offline rule evaluation from a local spec snapshot
//
// Initialize races the first network fetch against a configurable timeout.
// When the network wins, fresh values are used from the start; when the
// timeout wins, the client serves cached values and applies the fetch
// whenever it completes. Either way Initialize returns a usable client.
//
// # Usage
//
// Typical setup:
//
//	import "github.com/dmitrymomot/flagkit/pkg/client"
//
//	c, err := client.New("client-sdk-key",
//		client.WithInitTimeout(3*time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Shutdown(ctx)
//
//	if err := c.Initialize(ctx, &identity.User{UserID: "user-123"}); err != nil {
//		log.Fatal(err)
//	}
//
//	if c.CheckGate("new-checkout") {
//		// New checkout flow
//	}
//
//	cfg := c.GetConfig("pricing")
//	price := cfg.GetNumber("monthly", 9.99)
//
// Experiments support sticky bucketing, which pins a user to their first
// assignment while the experiment stays active:
//
//	exp := c.GetExperiment("onboarding-v2", client.WithStickyBucketing())
//	variant := exp.GetString("variant", "control")
//
// # Identity switching
//
// UpdateUser switches the active identity and fetches its values. Cached
// values for recently seen identities are kept (bounded, oldest evicted), so
// switching back is instant. An in-flight fetch for the previous identity is
// never cancelled; its result lands in that identity's cache slot.
//
// # Configuration
//
// Settings come from the environment (FLAGKIT_* variables, optionally via a
// .env file) and can be overridden per field with functional options. See
// Config for the full list. The SDK is silent unless a logger is supplied
// with WithLogger or FLAGKIT_DEBUG is set.
package client
