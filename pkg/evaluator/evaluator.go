package evaluator

import (
	"encoding/json"
	"strconv"

	"github.com/dmitrymomot/flagkit/pkg/hashing"
	"github.com/dmitrymomot/flagkit/pkg/identity"
)

// maxGateDepth bounds pass_gate/fail_gate recursion so a cyclic snapshot
// cannot hang evaluation. Cycles are treated like unsupported conditions.
const maxGateDepth = 50

// EvalGate evaluates a feature gate spec by name. The boolean reports
// whether the gate exists in the snapshot at all, distinguishing "gate
// evaluates to false" from "gate unknown locally".
func (s *SpecSet) EvalGate(user *identity.User, name string) (Result, bool) {
	spec, ok := s.FeatureGates[name]
	if !ok {
		return Result{}, false
	}
	return s.evalSpec(user, spec, 0), true
}

// EvalConfig evaluates a dynamic config or experiment spec by name.
func (s *SpecSet) EvalConfig(user *identity.User, name string) (Result, bool) {
	spec, ok := s.DynamicConfigs[name]
	if !ok {
		return Result{}, false
	}
	return s.evalSpec(user, spec, 0), true
}

// EvalLayer evaluates a layer spec by name.
func (s *SpecSet) EvalLayer(user *identity.User, name string) (Result, bool) {
	spec, ok := s.LayerConfigs[name]
	if !ok {
		return Result{}, false
	}
	return s.evalSpec(user, spec, 0), true
}

func (s *SpecSet) evalSpec(user *identity.User, spec *ConfigSpec, depth int) Result {
	if depth > maxGateDepth {
		return Result{RequiresNetwork: true}
	}

	res := Result{RuleID: "default", JSONValue: decodeJSONObject(spec.DefaultValue)}
	if !spec.Enabled {
		res.RuleID = "disabled"
		return res
	}

	for i := range spec.Rules {
		rule := &spec.Rules[i]
		pass, network, exposures := s.evalRule(user, rule, depth)
		res.SecondaryExposures = append(res.SecondaryExposures, exposures...)
		if network {
			res.RequiresNetwork = true
			return res
		}
		if !pass {
			continue
		}
		// First matching rule wins; the salted bucket decides pass/fail.
		res.RuleID = rule.ID
		res.GroupName = rule.GroupName
		res.IsExperimentGroup = rule.IsExperimentGroup
		if passesPercentage(spec, rule, user) {
			res.Pass = true
			res.JSONValue = decodeJSONObject(rule.ReturnValue)
		}
		return res
	}
	return res
}

// passesPercentage buckets the unit ID into 10000 slots under the config and
// rule salts. Exact at the boundaries: 0 never passes, 100 always passes.
func passesPercentage(spec *ConfigSpec, rule *ConfigRule, user *identity.User) bool {
	if rule.PassPercentage <= 0 {
		return false
	}
	if rule.PassPercentage >= 100 {
		return true
	}
	idType := rule.IDType
	if idType == "" {
		idType = spec.IDType
	}
	unit := user.UnitID(idType)
	salt := rule.Salt
	if salt == "" {
		salt = rule.ID
	}
	bucket := hashing.BucketHash(spec.Salt+"."+salt+"."+unit) % 10000
	return float64(bucket) < rule.PassPercentage*100
}

func (s *SpecSet) evalRule(user *identity.User, rule *ConfigRule, depth int) (pass, network bool, exposures []SecondaryExposure) {
	for i := range rule.Conditions {
		ok, reqNetwork, exp := s.evalCondition(user, &rule.Conditions[i], depth)
		exposures = append(exposures, exp...)
		if reqNetwork {
			return false, true, exposures
		}
		if !ok {
			return false, false, exposures
		}
	}
	return true, false, exposures
}

func (s *SpecSet) evalCondition(user *identity.User, cond *ConfigCondition, depth int) (pass, network bool, exposures []SecondaryExposure) {
	var value any
	switch cond.kind() {
	case KindPublic:
		return true, false, nil

	case KindPassGate, KindFailGate:
		gateName, _ := cond.TargetValue.(string)
		nested, ok := s.FeatureGates[gateName]
		if !ok {
			return false, true, nil
		}
		r := s.evalSpec(user, nested, depth+1)
		exposures = append(r.SecondaryExposures, SecondaryExposure{
			Gate:      gateName,
			GateValue: strconv.FormatBool(r.Pass),
			RuleID:    r.RuleID,
		})
		if r.RequiresNetwork {
			return false, true, exposures
		}
		if cond.kind() == KindPassGate {
			return r.Pass, false, exposures
		}
		return !r.Pass, false, exposures

	case KindUserField, KindIPBased, KindUABased:
		value, _ = user.Field(cond.Field)

	case KindCurrentTime:
		value = nowEpochMillis()

	case KindUserBucket:
		salt, _ := cond.AdditionalSalt()
		unit := user.UnitID(cond.IDType)
		value = float64(hashing.BucketHash(salt+"."+unit) % 1000)

	case KindUnitID:
		value = user.UnitID(cond.IDType)

	default:
		// environment_field, segment lists and anything unrecognized need
		// server-side data the client does not have.
		return false, true, nil
	}

	return compare(cond.op(), value, cond.TargetValue), false, exposures
}

// AdditionalSalt extracts the user_bucket salt carried in the condition's
// field slot. Returns false when absent, which buckets under the empty salt.
func (c *ConfigCondition) AdditionalSalt() (string, bool) {
	if c.Field != "" {
		return c.Field, true
	}
	return "", false
}

func decodeJSONObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
