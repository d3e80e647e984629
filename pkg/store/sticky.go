package store

import (
	"context"
	"encoding/json"

	"github.com/dmitrymomot/flagkit/pkg/identity"
)

// Get returns the best currently-known value for a name. wantsLatest bypasses
// sticky lookup but still creates a sticky record on first active enrollment,
// so a later sticky read has something to return. ignoreOverrides requests
// raw evaluation, skipping the local override set.
func (s *Store) Get(name string, kind Kind, wantsLatest, ignoreOverrides bool) Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ignoreOverrides {
		if eval, ok := s.overrideFor(name, kind); ok {
			return eval
		}
	}

	entry := s.currentEntry()
	if entry == nil {
		reason := s.reason
		if reason != ReasonInvalidBootstrap {
			reason = ReasonUninitialized
		}
		return defaultEvaluation(name, reason)
	}

	switch kind {
	case KindGate:
		_, rec, ok := lookupGate(entry, name)
		if !ok {
			return defaultEvaluation(name, ReasonUnrecognized)
		}
		return evalFromGate(name, rec, s.reason)
	case KindConfig:
		return s.getConfigLocked(entry, entry.DynamicConfigs, name, wantsLatest)
	case KindLayer:
		return s.getConfigLocked(entry, entry.LayerConfigs, name, wantsLatest)
	default:
		return defaultEvaluation(name, ReasonError)
	}
}

// getConfigLocked implements the sticky state machine for experiments and
// layers:
//
//   - sticky exists, experiment still active, latest not requested → sticky
//   - sticky exists, experiment inactive → clear sticky, return latest
//   - no sticky, user actively enrolled → create sticky, return latest
//     (also when wantsLatest is set; creation is independent of lookup)
func (s *Store) getConfigLocked(entry *userValues, values map[string]ConfigRecord, name string, wantsLatest bool) Evaluation {
	hashed, latest, ok := lookupConfig(values, name)
	if !ok {
		return defaultEvaluation(name, ReasonUnrecognized)
	}

	sticky, hasSticky := s.stickyFor(entry, hashed, latest.IsDeviceBased)

	if hasSticky {
		if latest.IsExperimentActive {
			if !wantsLatest {
				return evalFromConfig(name, sticky, ReasonSticky)
			}
		} else {
			s.clearSticky(entry, hashed, latest.IsDeviceBased)
			hasSticky = false
		}
	}

	if !hasSticky && latest.IsExperimentActive && latest.IsUserInExperiment {
		s.saveSticky(entry, hashed, latest, latest.IsDeviceBased)
	}

	return evalFromConfig(name, latest, s.reason)
}

// stickyFor reads the sticky record for a config. Device-scoped experiments
// stick independently of the acting user and never touch the user-persistent
// adapter.
func (s *Store) stickyFor(entry *userValues, hashed string, deviceBased bool) (ConfigRecord, bool) {
	if deviceBased {
		rec, ok := s.deviceSticky[hashed]
		return rec, ok
	}
	rec, ok := entry.StickyExperiments[hashed]
	return rec, ok
}

func (s *Store) saveSticky(entry *userValues, hashed string, rec ConfigRecord, deviceBased bool) {
	if deviceBased {
		s.deviceSticky[hashed] = rec.clone()
		s.persistKey(context.Background(), kvDeviceStickyKey, s.deviceSticky)
		return
	}
	entry.StickyExperiments[hashed] = rec.clone()
	s.persist(context.Background())
	s.saveAdapterSticky(entry)
}

func (s *Store) clearSticky(entry *userValues, hashed string, deviceBased bool) {
	if deviceBased {
		delete(s.deviceSticky, hashed)
		s.persistKey(context.Background(), kvDeviceStickyKey, s.deviceSticky)
		return
	}
	delete(entry.StickyExperiments, hashed)
	s.persist(context.Background())
	s.saveAdapterSticky(entry)
}

// adapterKey namespaces persisted sticky assignments per unit and ID type.
func (s *Store) adapterKey() string {
	return s.user.UserID + ":" + identity.DefaultIDType
}

// saveAdapterSticky mirrors the user-scoped sticky map into the configured
// persistent adapter. Errors are logged and swallowed; sticky bucketing keeps
// working from the in-process copy.
func (s *Store) saveAdapterSticky(entry *userValues) {
	if s.userStore == nil || s.user == nil {
		return
	}
	raw, err := json.Marshal(entry.StickyExperiments)
	if err != nil {
		s.log.Warn("sticky marshal failed", "error", err)
		return
	}
	if err := s.userStore.Save(s.adapterKey(), raw); err != nil {
		s.log.Warn("sticky adapter save failed", "error", err)
	}
}

// loadAdapterSticky reads the adapter-persisted sticky records for the
// active user. Returns nil when no adapter is configured, nothing is stored,
// or the record is corrupted.
func (s *Store) loadAdapterSticky() map[string]ConfigRecord {
	if s.userStore == nil || s.user == nil {
		return nil
	}
	raw, err := s.userStore.Load(s.adapterKey())
	if err != nil || len(raw) == 0 {
		return nil
	}
	var persisted map[string]ConfigRecord
	if err := json.Unmarshal(raw, &persisted); err != nil {
		s.log.Warn("sticky adapter record corrupted, ignoring", "error", err)
		return nil
	}
	return persisted
}

// mergeAdapterSticky overlays adapter-persisted sticky records onto a cache
// entry when an identity becomes active. Adapter data wins: it may have been
// written by another process sharing the same adapter.
func (s *Store) mergeAdapterSticky(entry *userValues) {
	for k, v := range s.loadAdapterSticky() {
		entry.StickyExperiments[k] = v.clone()
	}
}
