package client

import (
	"github.com/dmitrymomot/flagkit/pkg/store"
)

// FeatureGate is the result of a gate check: the boolean plus the metadata
// explaining which rule produced it and why.
type FeatureGate struct {
	eval store.Evaluation
}

func newFeatureGate(eval store.Evaluation) FeatureGate {
	return FeatureGate{eval: eval}
}

// Name returns the gate's name as requested.
func (g FeatureGate) Name() string { return g.eval.Name }

// Value reports whether the gate passed for the current user.
func (g FeatureGate) Value() bool { return g.eval.Value }

// RuleID identifies the rule that produced the value, or "default",
// "disabled" or "override".
func (g FeatureGate) RuleID() string { return g.eval.RuleID }

// Reason explains the value's provenance.
func (g FeatureGate) Reason() string { return string(g.eval.Reason) }

// DynamicConfig is a named bag of typed values with per-key fallback
// accessors. The underlying map is a private copy; mutating results returned
// by accessors cannot corrupt the cache.
type DynamicConfig struct {
	eval store.Evaluation
}

func newDynamicConfig(eval store.Evaluation) DynamicConfig {
	return DynamicConfig{eval: eval}
}

// Name returns the config's name as requested.
func (c DynamicConfig) Name() string { return c.eval.Name }

// RuleID identifies the rule that produced the values.
func (c DynamicConfig) RuleID() string { return c.eval.RuleID }

// GroupName returns the experiment group this user was assigned to, when the
// config is an experiment.
func (c DynamicConfig) GroupName() string { return c.eval.GroupName }

// Reason explains the value's provenance.
func (c DynamicConfig) Reason() string { return string(c.eval.Reason) }

// Map returns all values. Nil when the config is unknown.
func (c DynamicConfig) Map() map[string]any { return c.eval.JSONValue }

// GetString returns the value at key, or fallback when absent or not a
// string.
func (c DynamicConfig) GetString(key, fallback string) string {
	if v, ok := c.eval.JSONValue[key].(string); ok {
		return v
	}
	return fallback
}

// GetNumber returns the value at key, or fallback when absent or not
// numeric. JSON numbers decode as float64.
func (c DynamicConfig) GetNumber(key string, fallback float64) float64 {
	switch v := c.eval.JSONValue[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// GetBool returns the value at key, or fallback when absent or not a bool.
func (c DynamicConfig) GetBool(key string, fallback bool) bool {
	if v, ok := c.eval.JSONValue[key].(bool); ok {
		return v
	}
	return fallback
}

// GetSlice returns the value at key, or fallback when absent or not an
// array.
func (c DynamicConfig) GetSlice(key string, fallback []any) []any {
	if v, ok := c.eval.JSONValue[key].([]any); ok {
		return v
	}
	return fallback
}

// GetMap returns the value at key, or fallback when absent or not an object.
func (c DynamicConfig) GetMap(key string, fallback map[string]any) map[string]any {
	if v, ok := c.eval.JSONValue[key].(map[string]any); ok {
		return v
	}
	return fallback
}

// Layer is a parameter namespace shared across experiments. Reading a
// parameter logs a layer exposure naming that parameter, so exposure volume
// tracks actual usage rather than layer retrieval.
type Layer struct {
	eval       store.Evaluation
	onExposure func(parameter string)
}

func newLayer(eval store.Evaluation, onExposure func(parameter string)) Layer {
	return Layer{eval: eval, onExposure: onExposure}
}

// Name returns the layer's name as requested.
func (l Layer) Name() string { return l.eval.Name }

// RuleID identifies the rule that produced the values.
func (l Layer) RuleID() string { return l.eval.RuleID }

// GroupName returns the assigned group of the allocated experiment, if any.
func (l Layer) GroupName() string { return l.eval.GroupName }

// Reason explains the value's provenance.
func (l Layer) Reason() string { return string(l.eval.Reason) }

func (l Layer) get(key string) (any, bool) {
	v, ok := l.eval.JSONValue[key]
	if ok && l.onExposure != nil {
		l.onExposure(key)
	}
	return v, ok
}

// GetString returns the parameter at key, or fallback when absent or not a
// string. Present parameters log an exposure.
func (l Layer) GetString(key, fallback string) string {
	if raw, ok := l.get(key); ok {
		if v, ok := raw.(string); ok {
			return v
		}
	}
	return fallback
}

// GetNumber returns the parameter at key, or fallback when absent or not
// numeric. Present parameters log an exposure.
func (l Layer) GetNumber(key string, fallback float64) float64 {
	raw, ok := l.get(key)
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// GetBool returns the parameter at key, or fallback when absent or not a
// bool. Present parameters log an exposure.
func (l Layer) GetBool(key string, fallback bool) bool {
	if raw, ok := l.get(key); ok {
		if v, ok := raw.(bool); ok {
			return v
		}
	}
	return fallback
}

// GetSlice returns the parameter at key, or fallback when absent or not an
// array. Present parameters log an exposure.
func (l Layer) GetSlice(key string, fallback []any) []any {
	if raw, ok := l.get(key); ok {
		if v, ok := raw.([]any); ok {
			return v
		}
	}
	return fallback
}

// GetMap returns the parameter at key, or fallback when absent or not an
// object. Present parameters log an exposure.
func (l Layer) GetMap(key string, fallback map[string]any) map[string]any {
	if raw, ok := l.get(key); ok {
		if v, ok := raw.(map[string]any); ok {
			return v
		}
	}
	return fallback
}
