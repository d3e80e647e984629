// Package identity defines the user identity evaluated against feature gates,
// dynamic configs and experiments.
//
// A User is a plain value object: the SDK deep-copies it on every entry point
// so callers may freely reuse or mutate their own instance. Only the stable
// subset of the identity (user ID and custom IDs) participates in cache keys
// and bucketing hashes; volatile attributes like IP or user agent only feed
// condition evaluation.
//
// # Usage
//
//	user := &identity.User{
//		UserID:    "u-123",
//		Email:     "jane@example.com",
//		CustomIDs: map[string]string{"orgID": "org-9"},
//	}
//
//	unit := user.UnitID("orgID") // "org-9"
//
// PrivateAttributes are available to condition evaluation but are stripped by
// ForLogging before an event leaves the process.
package identity
