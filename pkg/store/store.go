package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/hashing"
	"github.com/dmitrymomot/flagkit/pkg/identity"
	"github.com/dmitrymomot/flagkit/pkg/storage"
)

// Persisted record keys. The values key is versioned: if the persisted shape
// ever changes incompatibly the version bumps and old records are ignored.
const (
	kvValuesKey       = "values:v3"
	kvDeviceStickyKey = "sticky_device:v1"
	kvOverridesKey    = "overrides:v1"
)

// DefaultCacheLimit bounds how many distinct identities the persisted cache
// retains. Preserved as a configurable default; no correctness property
// depends on the exact number.
const DefaultCacheLimit = 10

// Store is the stateful heart of the SDK: it holds per-identity evaluation
// results, merges network responses, implements sticky bucketing and local
// overrides, and amortizes cache-key migration across normal traffic.
//
// A single coarse mutex guards all state. Operations are short (map reads,
// small clones), so contention is not a concern, and coarse locking keeps the
// cross-field invariants (cache vs. sticky vs. epoch bookkeeping) trivial.
type Store struct {
	mu        sync.Mutex
	log       *slog.Logger
	kv        storage.KV
	userStore storage.UserPersistentStorage
	sdkKey    string
	stableID  string
	limit     int

	cache        map[string]*userValues
	deviceSticky map[string]ConfigRecord
	overrides    overrideSet

	user   *identity.User
	keys   hashing.KeySet
	reason Reason

	// pendingSticky holds adapter-persisted assignments loaded for an
	// identity with no cache entry yet; they seed the entry's sticky map
	// when its first snapshot is saved.
	pendingSticky    map[string]ConfigRecord
	pendingStickyKey string

	// epochs orders fetch application per identity: a completion whose epoch
	// is stale for its identity is discarded instead of overwriting newer
	// state.
	epochs map[string]uint64
}

// Option configures a Store.
type Option func(*Store)

// WithKV sets the durable key-value adapter. Without one the store keeps an
// in-memory fallback and loses persistence across restarts.
func WithKV(kv storage.KV) Option {
	return func(s *Store) {
		if kv != nil {
			s.kv = kv
		}
	}
}

// WithUserPersistentStorage sets the per-user sticky bucketing adapter.
func WithUserPersistentStorage(ups storage.UserPersistentStorage) Option {
	return func(s *Store) { s.userStore = ups }
}

// WithLogger sets the diagnostics logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCacheLimit overrides the bounded multi-user cache size.
func WithCacheLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithStableID sets the device-scoped stable identifier used in cache keys.
func WithStableID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.stableID = id
		}
	}
}

// New creates a Store for one SDK key.
func New(sdkKey string, opts ...Option) *Store {
	s := &Store{
		log:          slog.New(slog.DiscardHandler),
		kv:           storage.NewMemory(),
		sdkKey:       sdkKey,
		limit:        DefaultCacheLimit,
		cache:        make(map[string]*userValues),
		deviceSticky: make(map[string]ConfigRecord),
		overrides:    newOverrideSet(),
		epochs:       make(map[string]uint64),
		reason:       ReasonUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted state from the KV adapter. Corrupted records are
// removed and forgotten; the store continues on whatever loaded cleanly.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadJSON(ctx, kvValuesKey, &s.cache)
	s.loadJSON(ctx, kvDeviceStickyKey, &s.deviceSticky)
	s.loadJSON(ctx, kvOverridesKey, &s.overrides)
	if s.cache == nil {
		s.cache = make(map[string]*userValues)
	}
	if s.deviceSticky == nil {
		s.deviceSticky = make(map[string]ConfigRecord)
	}
	if s.overrides.Gates == nil {
		s.overrides = newOverrideSet()
	}
}

func (s *Store) loadJSON(ctx context.Context, key string, dst any) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if err != storage.ErrNotFound {
			// Best-effort storage: log and continue on in-memory state.
			s.log.Warn("cache read failed", "key", key, "error", err)
		}
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn("cache record corrupted, dropping", "key", key, "error", err)
		_ = s.kv.Remove(ctx, key)
	}
}

func (s *Store) persist(ctx context.Context) {
	s.persistKey(ctx, kvValuesKey, s.cache)
}

func (s *Store) persistKey(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
	}
}

// SetUser switches the active identity. The user is copied on entry; the
// caller's value is never retained or mutated. A cache entry found under an
// older key scheme is migrated to the newest one here, on the read path.
func (s *Store) SetUser(ctx context.Context, user *identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user.Copy()
	s.keys = hashing.CacheKeys(s.stableID, s.user, s.sdkKey)
	entry := s.entryForKeys(ctx, s.keys)
	if entry != nil {
		s.reason = ReasonCache
		s.mergeAdapterSticky(entry)
		s.pendingSticky, s.pendingStickyKey = nil, ""
	} else {
		s.reason = ReasonUninitialized
		// No entry yet, so there is nothing to merge onto. Remember the
		// adapter's assignments; the identity's first saved snapshot
		// starts from them instead of enrolling fresh.
		s.pendingSticky = s.loadAdapterSticky()
		s.pendingStickyKey = s.keys.V3
	}
}

// entryForKeys returns the cache entry for an identity, probing key schemes
// newest-first and rewriting hits on older schemes under the newest. Must be
// called with the lock held.
func (s *Store) entryForKeys(ctx context.Context, keys hashing.KeySet) *userValues {
	if entry, ok := s.cache[keys.V3]; ok {
		return entry
	}
	for _, old := range []string{keys.V2, keys.V1} {
		if entry, ok := s.cache[old]; ok {
			// Both older entries go, even if only one was hit.
			delete(s.cache, keys.V2)
			delete(s.cache, keys.V1)
			s.cache[keys.V3] = entry
			s.persist(ctx)
			return entry
		}
	}
	return nil
}

// CurrentKeys returns the active identity's cache keys, used to route an
// in-flight fetch back to the identity that issued it.
func (s *Store) CurrentKeys() hashing.KeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

// Reason reports the provenance of the active identity's current values.
func (s *Store) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// SinceTime returns the active identity's last server sync time, zero when
// nothing is cached. Fetches send it so the server can answer with a delta.
func (s *Store) SinceTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.currentEntry(); e != nil {
		return e.Time
	}
	return 0
}

// Size returns the number of cached identities.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// HasEntry reports whether a cache entry exists under the given key. Used by
// migration and eviction tests.
func (s *Store) HasEntry(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[key]
	return ok
}

// BeginFetch registers a new in-flight fetch for the active identity and
// returns the keys and epoch the completion must present to ApplyFetch.
// Issuing a newer fetch for the same identity invalidates older epochs.
func (s *Store) BeginFetch() (hashing.KeySet, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[s.keys.V3]++
	return s.keys, s.epochs[s.keys.V3]
}

// ApplyFetch applies a fetch completion under the identity that issued it.
// Returns false when the completion is stale: a newer fetch for the same
// identity was issued after this one, so the response is discarded rather
// than overwriting fresher state. Responses for a no-longer-active identity
// still apply, under their own cache key, never the current one.
func (s *Store) ApplyFetch(ctx context.Context, keys hashing.KeySet, epoch uint64, resp *FetchResponse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epochs[keys.V3] != epoch {
		return false
	}
	s.applyLocked(ctx, keys, resp, ReasonNetwork)
	return true
}

// Save applies a full fetch response for the active identity.
func (s *Store) Save(ctx context.Context, resp *FetchResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(ctx, s.keys, resp, ReasonNetwork)
}

// MergeDelta applies a delta response for the active identity.
func (s *Store) MergeDelta(ctx context.Context, resp *FetchResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeDeltaLocked(ctx, s.keys, resp)
	s.reason = ReasonNetwork
}

func (s *Store) applyLocked(ctx context.Context, keys hashing.KeySet, resp *FetchResponse, reason Reason) {
	if !resp.HasUpdates {
		if entry := s.entryForKeys(ctx, keys); entry != nil {
			entry.EvaluationTime = time.Now().UnixMilli()
		}
		if keysEqual(keys, s.keys) {
			s.reason = ReasonNotModified
		}
		s.persist(ctx)
		return
	}
	if resp.IsDelta {
		s.mergeDeltaLocked(ctx, keys, resp)
	} else {
		s.saveLocked(ctx, keys, resp)
	}
	if keysEqual(keys, s.keys) {
		s.reason = reason
	}
}

// saveLocked replaces an identity's entry with a full snapshot, carrying
// sticky assignments over, then enforces the cache bound and persists.
func (s *Store) saveLocked(ctx context.Context, keys hashing.KeySet, resp *FetchResponse) {
	prior := s.entryForKeys(ctx, keys)

	entry := newUserValues()
	for k, v := range resp.FeatureGates {
		entry.FeatureGates[k] = v
	}
	for k, v := range resp.DynamicConfigs {
		entry.DynamicConfigs[k] = v.clone()
	}
	for k, v := range resp.LayerConfigs {
		entry.LayerConfigs[k] = v.clone()
	}
	if prior != nil {
		entry.StickyExperiments = prior.StickyExperiments
	} else if s.pendingSticky != nil && keys.V3 == s.pendingStickyKey {
		for k, v := range s.pendingSticky {
			entry.StickyExperiments[k] = v.clone()
		}
		s.pendingSticky, s.pendingStickyKey = nil, ""
	}
	entry.Time = resp.Time
	entry.EvaluationTime = time.Now().UnixMilli()
	entry.HashUsed = resp.HashUsed

	// Write the new entry last so the active identity can never be the one
	// evicted below.
	delete(s.cache, keys.V1)
	delete(s.cache, keys.V2)
	s.cache[keys.V3] = entry
	s.enforceLimit()
	s.persist(ctx)
}

// mergeDeltaLocked overlays changed entries onto the prior full snapshot and
// applies deletions. Entries absent from the delta are kept untouched.
func (s *Store) mergeDeltaLocked(ctx context.Context, keys hashing.KeySet, resp *FetchResponse) {
	entry := s.entryForKeys(ctx, keys)
	if entry == nil {
		// No base snapshot: treat the delta as a (partial) full response
		// rather than dropping it.
		s.saveLocked(ctx, keys, resp)
		return
	}
	for k, v := range resp.FeatureGates {
		entry.FeatureGates[k] = v
	}
	for k, v := range resp.DynamicConfigs {
		entry.DynamicConfigs[k] = v.clone()
	}
	for k, v := range resp.LayerConfigs {
		entry.LayerConfigs[k] = v.clone()
	}
	for _, k := range resp.DeletedGates {
		delete(entry.FeatureGates, k)
	}
	for _, k := range resp.DeletedConfigs {
		delete(entry.DynamicConfigs, k)
	}
	for _, k := range resp.DeletedLayers {
		delete(entry.LayerConfigs, k)
	}
	if resp.HashUsed != "" {
		entry.HashUsed = resp.HashUsed
	}
	entry.Time = resp.Time
	entry.EvaluationTime = time.Now().UnixMilli()
	s.cache[keys.V3] = entry
	s.persist(ctx)
}

// enforceLimit evicts identities beyond the cache bound, oldest sync time
// first. Map iteration order is unspecified, so candidates are sorted
// explicitly; the key tie-break keeps eviction deterministic for equal
// timestamps. The active identity is exempt.
func (s *Store) enforceLimit() {
	if len(s.cache) <= s.limit {
		return
	}
	type candidate struct {
		key  string
		time int64
	}
	candidates := make([]candidate, 0, len(s.cache))
	for k, v := range s.cache {
		if k == s.keys.V3 {
			continue
		}
		candidates = append(candidates, candidate{key: k, time: v.Time})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].time != candidates[j].time {
			return candidates[i].time < candidates[j].time
		}
		return candidates[i].key < candidates[j].key
	})
	for _, c := range candidates {
		if len(s.cache) <= s.limit {
			break
		}
		delete(s.cache, c.key)
	}
}

// Bootstrap initializes the active identity's values from an externally
// supplied snapshot. The snapshot's declared identity must match the active
// user, ignoring the stable ID, which snapshot producers cannot know. On a
// mismatch the snapshot is rejected with ReasonInvalidBootstrap and the
// store falls back to defaults rather than trusting wrong values.
func (s *Store) Bootstrap(ctx context.Context, raw []byte) Reason {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resp FetchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Warn("bootstrap snapshot unparseable", "error", err)
		s.reason = ReasonInvalidBootstrap
		return s.reason
	}
	if !s.bootstrapMatchesUser(resp.EvaluatedKeys) {
		s.log.Warn("bootstrap snapshot evaluated for a different identity")
		s.reason = ReasonInvalidBootstrap
		return s.reason
	}
	resp.HasUpdates = true
	s.saveLocked(ctx, s.keys, &resp)
	s.reason = ReasonBootstrap
	return s.reason
}

// bootstrapMatchesUser validates the snapshot's evaluated identity against
// the active user. A snapshot without evaluated keys is accepted as-is.
func (s *Store) bootstrapMatchesUser(keys *EvaluatedKeys) bool {
	if keys == nil {
		return true
	}
	if keys.UserID != s.user.UserID {
		return false
	}
	for k, v := range keys.CustomIDs {
		if k == "stableID" {
			continue
		}
		if s.user.CustomIDs[k] != v {
			return false
		}
	}
	for k, v := range s.user.CustomIDs {
		if k == "stableID" {
			continue
		}
		if keys.CustomIDs[k] != v {
			return false
		}
	}
	return true
}

// Shutdown flushes in-memory state to the KV adapter.
func (s *Store) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(ctx)
	s.persistKey(ctx, kvDeviceStickyKey, s.deviceSticky)
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}

func keysEqual(a, b hashing.KeySet) bool { return a.V3 == b.V3 }

// currentEntry returns the active identity's entry. Must be called with the
// lock held.
func (s *Store) currentEntry() *userValues {
	return s.cache[s.keys.V3]
}

func lookupGate(entry *userValues, name string) (string, GateRecord, bool) {
	for _, algo := range hashing.Algorithms {
		h := hashing.Digest(name, algo)
		if rec, ok := entry.FeatureGates[h]; ok {
			return h, rec, true
		}
	}
	return "", GateRecord{}, false
}

func lookupConfig(m map[string]ConfigRecord, name string) (string, ConfigRecord, bool) {
	for _, algo := range hashing.Algorithms {
		h := hashing.Digest(name, algo)
		if rec, ok := m[h]; ok {
			return h, rec, true
		}
	}
	return "", ConfigRecord{}, false
}
