package evaluator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/evaluator"
	"github.com/dmitrymomot/flagkit/pkg/identity"
)

func mustParse(t *testing.T, raw string) *evaluator.SpecSet {
	t.Helper()
	s, err := evaluator.ParseSpecSet([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestParseSpecSet(t *testing.T) {
	t.Parallel()

	t.Run("ArraysKeyedByName", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{
			"feature_gates": [{"name": "g1", "enabled": true}],
			"dynamic_configs": [{"name": "c1", "enabled": true}],
			"layer_configs": [{"name": "l1", "enabled": true}],
			"time": 42
		}`)
		assert.Contains(t, s.FeatureGates, "g1")
		assert.Contains(t, s.DynamicConfigs, "c1")
		assert.Contains(t, s.LayerConfigs, "l1")
		assert.Equal(t, int64(42), s.Time)
	})

	t.Run("Malformed", func(t *testing.T) {
		t.Parallel()
		_, err := evaluator.ParseSpecSet([]byte("{not json"))
		assert.Error(t, err)
	})
}

func TestEvalGate(t *testing.T) {
	t.Parallel()
	user := &identity.User{UserID: "user-1", Email: "a@corp.com", Country: "DE"}

	t.Run("UnknownName", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{}`)
		_, found := s.EvalGate(user, "nope")
		assert.False(t, found)
	})

	t.Run("DisabledSpec", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": false,
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [{"type": "public"}]}]
		}]}`)
		res, found := s.EvalGate(user, "g")
		require.True(t, found)
		assert.False(t, res.Pass)
		assert.Equal(t, "disabled", res.RuleID)
	})

	t.Run("PublicRulePasses", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true,
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [{"type": "public"}]}]
		}]}`)
		res, found := s.EvalGate(user, "g")
		require.True(t, found)
		assert.True(t, res.Pass)
		assert.Equal(t, "r1", res.RuleID)
		assert.False(t, res.RequiresNetwork)
	})

	t.Run("NoRuleMatchesIsDefault", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true,
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [
				{"type": "user_field", "operator": "any", "field": "country", "targetValue": ["US"]}
			]}]
		}]}`)
		res, found := s.EvalGate(user, "g")
		require.True(t, found)
		assert.False(t, res.Pass)
		assert.Equal(t, "default", res.RuleID)
	})

	t.Run("FirstMatchingRuleWins", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true,
			"rules": [
				{"id": "miss", "passPercentage": 100, "conditions": [
					{"type": "user_field", "operator": "any", "field": "country", "targetValue": ["US"]}
				]},
				{"id": "hit-de", "passPercentage": 100, "conditions": [
					{"type": "user_field", "operator": "any", "field": "country", "targetValue": ["DE"]}
				]},
				{"id": "hit-all", "passPercentage": 100, "conditions": [{"type": "public"}]}
			]
		}]}`)
		res, found := s.EvalGate(user, "g")
		require.True(t, found)
		assert.True(t, res.Pass)
		assert.Equal(t, "hit-de", res.RuleID)
	})

	t.Run("ZeroPercentNeverPasses", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true, "salt": "s",
			"rules": [{"id": "r1", "passPercentage": 0, "conditions": [{"type": "public"}]}]
		}]}`)
		for _, uid := range []string{"a", "b", "c", "d", "e"} {
			res, _ := s.EvalGate(&identity.User{UserID: uid}, "g")
			assert.False(t, res.Pass, "user %s", uid)
			assert.Equal(t, "r1", res.RuleID)
		}
	})

	t.Run("HundredPercentAlwaysPasses", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true, "salt": "s",
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [{"type": "public"}]}]
		}]}`)
		for _, uid := range []string{"a", "b", "c", "d", "e"} {
			res, _ := s.EvalGate(&identity.User{UserID: uid}, "g")
			assert.True(t, res.Pass, "user %s", uid)
		}
	})

	t.Run("PercentageDeterministic", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true, "salt": "rollout-salt",
			"rules": [{"id": "r1", "salt": "r1-salt", "passPercentage": 50, "conditions": [{"type": "public"}]}]
		}]}`)
		first, _ := s.EvalGate(user, "g")
		for i := 0; i < 10; i++ {
			again, _ := s.EvalGate(user, "g")
			assert.Equal(t, first.Pass, again.Pass)
		}
	})

	t.Run("UnsupportedConditionRequiresNetwork", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true,
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [
				{"type": "in_segment_list", "targetValue": "segment-1"}
			]}]
		}]}`)
		res, found := s.EvalGate(user, "g")
		require.True(t, found)
		assert.True(t, res.RequiresNetwork)
	})

	t.Run("UnknownConditionTypeRequiresNetwork", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [{
			"name": "g", "enabled": true,
			"rules": [{"id": "r1", "passPercentage": 100, "conditions": [
				{"type": "brand_new_condition_kind"}
			]}]
		}]}`)
		res, _ := s.EvalGate(user, "g")
		assert.True(t, res.RequiresNetwork)
	})
}

func TestNestedGates(t *testing.T) {
	t.Parallel()
	user := &identity.User{UserID: "user-1"}

	t.Run("PassGateRecordsSecondaryExposure", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [
			{"name": "inner", "enabled": true,
				"rules": [{"id": "ri", "passPercentage": 100, "conditions": [{"type": "public"}]}]},
			{"name": "outer", "enabled": true,
				"rules": [{"id": "ro", "passPercentage": 100, "conditions": [
					{"type": "pass_gate", "targetValue": "inner"}
				]}]}
		]}`)
		res, found := s.EvalGate(user, "outer")
		require.True(t, found)
		assert.True(t, res.Pass)
		require.Len(t, res.SecondaryExposures, 1)
		assert.Equal(t, "inner", res.SecondaryExposures[0].Gate)
		assert.Equal(t, "true", res.SecondaryExposures[0].GateValue)
		assert.Equal(t, "ri", res.SecondaryExposures[0].RuleID)
	})

	t.Run("FailGateInverts", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [
			{"name": "inner", "enabled": false},
			{"name": "outer", "enabled": true,
				"rules": [{"id": "ro", "passPercentage": 100, "conditions": [
					{"type": "fail_gate", "targetValue": "inner"}
				]}]}
		]}`)
		res, _ := s.EvalGate(user, "outer")
		assert.True(t, res.Pass)
	})

	t.Run("MissingNestedGateRequiresNetwork", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [
			{"name": "outer", "enabled": true,
				"rules": [{"id": "ro", "passPercentage": 100, "conditions": [
					{"type": "pass_gate", "targetValue": "absent"}
				]}]}
		]}`)
		res, _ := s.EvalGate(user, "outer")
		assert.True(t, res.RequiresNetwork)
	})

	t.Run("CycleTerminates", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"feature_gates": [
			{"name": "a", "enabled": true,
				"rules": [{"id": "ra", "passPercentage": 100, "conditions": [
					{"type": "pass_gate", "targetValue": "b"}
				]}]},
			{"name": "b", "enabled": true,
				"rules": [{"id": "rb", "passPercentage": 100, "conditions": [
					{"type": "pass_gate", "targetValue": "a"}
				]}]}
		]}`)
		res, found := s.EvalGate(user, "a")
		require.True(t, found)
		assert.True(t, res.RequiresNetwork)
	})
}

func TestEvalConfig(t *testing.T) {
	t.Parallel()
	user := &identity.User{UserID: "user-1", Country: "DE"}

	t.Run("RuleValueOnPass", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"dynamic_configs": [{
			"name": "c", "enabled": true,
			"defaultValue": {"color": "gray"},
			"rules": [{"id": "r1", "groupName": "treatment", "passPercentage": 100,
				"returnValue": {"color": "blue"},
				"conditions": [{"type": "public"}]}]
		}]}`)
		res, found := s.EvalConfig(user, "c")
		require.True(t, found)
		assert.True(t, res.Pass)
		assert.Equal(t, "blue", res.JSONValue["color"])
		assert.Equal(t, "treatment", res.GroupName)
	})

	t.Run("DefaultValueOnMiss", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"dynamic_configs": [{
			"name": "c", "enabled": true,
			"defaultValue": {"color": "gray"},
			"rules": [{"id": "r1", "passPercentage": 100,
				"returnValue": {"color": "blue"},
				"conditions": [{"type": "user_field", "operator": "any", "field": "country", "targetValue": ["US"]}]}]
		}]}`)
		res, _ := s.EvalConfig(user, "c")
		assert.False(t, res.Pass)
		assert.Equal(t, "gray", res.JSONValue["color"])
		assert.Equal(t, "default", res.RuleID)
	})

	t.Run("MatchedRuleFailedBucketKeepsRuleID", func(t *testing.T) {
		t.Parallel()
		s := mustParse(t, `{"dynamic_configs": [{
			"name": "c", "enabled": true,
			"defaultValue": {"color": "gray"},
			"rules": [{"id": "r1", "passPercentage": 0,
				"returnValue": {"color": "blue"},
				"conditions": [{"type": "public"}]}]
		}]}`)
		res, _ := s.EvalConfig(user, "c")
		assert.False(t, res.Pass)
		assert.Equal(t, "r1", res.RuleID)
		assert.Equal(t, "gray", res.JSONValue["color"])
	})
}

func TestUserBucketCondition(t *testing.T) {
	t.Parallel()

	s := mustParse(t, `{"feature_gates": [{
		"name": "g", "enabled": true,
		"rules": [{"id": "r1", "passPercentage": 100, "conditions": [
			{"type": "user_bucket", "operator": "lt", "field": "bucket-salt", "targetValue": 1000}
		]}]
	}]}`)

	// Bucket values are always in [0, 1000), so lt 1000 matches everyone.
	for _, uid := range []string{"a", "b", "c"} {
		res, found := s.EvalGate(&identity.User{UserID: uid}, "g")
		require.True(t, found)
		assert.True(t, res.Pass, "user %s", uid)
	}
}

func TestUnitIDCondition(t *testing.T) {
	t.Parallel()

	s := mustParse(t, `{"feature_gates": [{
		"name": "g", "enabled": true,
		"rules": [{"id": "r1", "passPercentage": 100, "conditions": [
			{"type": "unit_id", "operator": "any", "idType": "orgID", "targetValue": ["org-1", "org-2"]}
		]}]
	}]}`)

	hit, _ := s.EvalGate(&identity.User{UserID: "u", CustomIDs: map[string]string{"orgID": "org-2"}}, "g")
	assert.True(t, hit.Pass)

	miss, _ := s.EvalGate(&identity.User{UserID: "u", CustomIDs: map[string]string{"orgID": "org-3"}}, "g")
	assert.False(t, miss.Pass)
}
