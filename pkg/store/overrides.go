package store

import (
	"context"
	"maps"
	"time"
)

// overrideSet holds explicit local overrides keyed by unhashed name. An
// override always wins over cache and network results unless the caller
// requests raw evaluation.
type overrideSet struct {
	Gates   map[string]bool           `json:"gates"`
	Configs map[string]map[string]any `json:"configs"`
	Layers  map[string]map[string]any `json:"layers"`
}

func newOverrideSet() overrideSet {
	return overrideSet{
		Gates:   make(map[string]bool),
		Configs: make(map[string]map[string]any),
		Layers:  make(map[string]map[string]any),
	}
}

func (s *Store) overrideFor(name string, kind Kind) (Evaluation, bool) {
	switch kind {
	case KindGate:
		if v, ok := s.overrides.Gates[name]; ok {
			return Evaluation{
				Name:           name,
				Value:          v,
				RuleID:         "override",
				Reason:         ReasonLocalOverride,
				EvaluationTime: time.Now(),
			}, true
		}
	case KindConfig:
		if v, ok := s.overrides.Configs[name]; ok {
			return Evaluation{
				Name:           name,
				Value:          len(v) > 0,
				JSONValue:      maps.Clone(v),
				RuleID:         "override",
				Reason:         ReasonLocalOverride,
				EvaluationTime: time.Now(),
			}, true
		}
	case KindLayer:
		if v, ok := s.overrides.Layers[name]; ok {
			return Evaluation{
				Name:           name,
				Value:          len(v) > 0,
				JSONValue:      maps.Clone(v),
				RuleID:         "override",
				Reason:         ReasonLocalOverride,
				EvaluationTime: time.Now(),
			}, true
		}
	}
	return Evaluation{}, false
}

// OverrideGate forces a gate to a fixed value for this device.
func (s *Store) OverrideGate(ctx context.Context, name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides.Gates[name] = value
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}

// OverrideConfig forces a dynamic config or experiment to a fixed value.
func (s *Store) OverrideConfig(ctx context.Context, name string, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides.Configs[name] = maps.Clone(value)
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}

// OverrideLayer forces a layer's parameters to a fixed value.
func (s *Store) OverrideLayer(ctx context.Context, name string, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides.Layers[name] = maps.Clone(value)
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}

// RemoveOverride clears any override registered under name across all kinds.
func (s *Store) RemoveOverride(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides.Gates, name)
	delete(s.overrides.Configs, name)
	delete(s.overrides.Layers, name)
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}

// RemoveAllOverrides clears every local override.
func (s *Store) RemoveAllOverrides(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = newOverrideSet()
	s.persistKey(ctx, kvOverridesKey, s.overrides)
}
