package evaluator

import (
	"encoding/json"
	"strings"
)

// ConditionKind is the closed set of condition types the evaluator can
// resolve without the config service. Anything outside this set maps to
// KindUnsupported, which makes the whole evaluation fall back to the network
// rather than inventing semantics locally.
type ConditionKind int

const (
	KindUnsupported ConditionKind = iota
	KindPublic
	KindPassGate
	KindFailGate
	KindUserField
	KindIPBased
	KindUABased
	KindCurrentTime
	KindEnvironmentField
	KindUserBucket
	KindUnitID
)

func parseConditionKind(s string) ConditionKind {
	switch strings.ToLower(s) {
	case "public":
		return KindPublic
	case "pass_gate":
		return KindPassGate
	case "fail_gate":
		return KindFailGate
	case "user_field":
		return KindUserField
	case "ip_based":
		return KindIPBased
	case "ua_based":
		return KindUABased
	case "current_time":
		return KindCurrentTime
	case "environment_field":
		return KindEnvironmentField
	case "user_bucket":
		return KindUserBucket
	case "unit_id":
		return KindUnitID
	default:
		return KindUnsupported
	}
}

// Operator is the closed set of comparison operators. Unknown operators
// evaluate to false rather than failing the whole evaluation.
type Operator int

const (
	OpUnknown Operator = iota
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpVersionGreaterThan
	OpVersionGreaterThanOrEqual
	OpVersionLessThan
	OpVersionLessThanOrEqual
	OpVersionEqual
	OpVersionNotEqual
	OpAny
	OpNone
	OpAnyCaseSensitive
	OpNoneCaseSensitive
	OpStrStartsWithAny
	OpStrEndsWithAny
	OpStrContainsAny
	OpStrContainsNone
	OpStrMatches
	OpEqual
	OpNotEqual
	OpBefore
	OpAfter
	OpOnDate
	OpInSegmentList
	OpNotInSegmentList
)

func parseOperator(s string) Operator {
	switch strings.ToLower(s) {
	case "gt":
		return OpGreaterThan
	case "gte":
		return OpGreaterThanOrEqual
	case "lt":
		return OpLessThan
	case "lte":
		return OpLessThanOrEqual
	case "version_gt":
		return OpVersionGreaterThan
	case "version_gte":
		return OpVersionGreaterThanOrEqual
	case "version_lt":
		return OpVersionLessThan
	case "version_lte":
		return OpVersionLessThanOrEqual
	case "version_eq":
		return OpVersionEqual
	case "version_neq":
		return OpVersionNotEqual
	case "any":
		return OpAny
	case "none":
		return OpNone
	case "any_case_sensitive":
		return OpAnyCaseSensitive
	case "none_case_sensitive":
		return OpNoneCaseSensitive
	case "str_starts_with_any":
		return OpStrStartsWithAny
	case "str_ends_with_any":
		return OpStrEndsWithAny
	case "str_contains_any":
		return OpStrContainsAny
	case "str_contains_none":
		return OpStrContainsNone
	case "str_matches":
		return OpStrMatches
	case "eq":
		return OpEqual
	case "neq":
		return OpNotEqual
	case "before":
		return OpBefore
	case "after":
		return OpAfter
	case "on":
		return OpOnDate
	case "in_segment_list":
		return OpInSegmentList
	case "not_in_segment_list":
		return OpNotInSegmentList
	default:
		return OpUnknown
	}
}

// ConfigCondition is one predicate inside a rule.
type ConfigCondition struct {
	Type        string `json:"type"`
	Operator    string `json:"operator"`
	Field       string `json:"field"`
	TargetValue any    `json:"targetValue"`
	IDType      string `json:"idType"`
}

func (c *ConfigCondition) kind() ConditionKind { return parseConditionKind(c.Type) }
func (c *ConfigCondition) op() Operator        { return parseOperator(c.Operator) }

// ConfigRule is an ordered list of conditions plus the value returned when
// they all pass and the salted pass percentage gating that value.
type ConfigRule struct {
	Name              string            `json:"name"`
	ID                string            `json:"id"`
	Salt              string            `json:"salt"`
	GroupName         string            `json:"groupName"`
	PassPercentage    float64           `json:"passPercentage"`
	Conditions        []ConfigCondition `json:"conditions"`
	ReturnValue       json.RawMessage   `json:"returnValue"`
	IDType            string            `json:"idType"`
	IsExperimentGroup bool              `json:"isExperimentGroup"`
}

// ConfigSpec is the offline representation of one gate, config, experiment or
// layer: an ordered rule list with a salt, an enabled flag and a default
// value. Immutable for the lifetime of the snapshot it was loaded from.
type ConfigSpec struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Salt         string          `json:"salt"`
	Enabled      bool            `json:"enabled"`
	Rules        []ConfigRule    `json:"rules"`
	DefaultValue json.RawMessage `json:"defaultValue"`
	IDType       string          `json:"idType"`
	Entity       string          `json:"entity"`
}

// SpecSet is a parsed rule-spec snapshot. Gate recursion (pass_gate and
// fail_gate conditions) resolves other specs through it.
type SpecSet struct {
	FeatureGates   map[string]*ConfigSpec
	DynamicConfigs map[string]*ConfigSpec
	LayerConfigs   map[string]*ConfigSpec
	Time           int64
}

type rawSpecSet struct {
	FeatureGates   []*ConfigSpec `json:"feature_gates"`
	DynamicConfigs []*ConfigSpec `json:"dynamic_configs"`
	LayerConfigs   []*ConfigSpec `json:"layer_configs"`
	Time           int64         `json:"time"`
}

// ParseSpecSet decodes a rule-spec snapshot. Unknown fields are ignored for
// forward compatibility.
func ParseSpecSet(raw []byte) (*SpecSet, error) {
	var r rawSpecSet
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	s := &SpecSet{
		FeatureGates:   make(map[string]*ConfigSpec, len(r.FeatureGates)),
		DynamicConfigs: make(map[string]*ConfigSpec, len(r.DynamicConfigs)),
		LayerConfigs:   make(map[string]*ConfigSpec, len(r.LayerConfigs)),
		Time:           r.Time,
	}
	for _, g := range r.FeatureGates {
		s.FeatureGates[g.Name] = g
	}
	for _, c := range r.DynamicConfigs {
		s.DynamicConfigs[c.Name] = c
	}
	for _, l := range r.LayerConfigs {
		s.LayerConfigs[l.Name] = l
	}
	return s, nil
}

// SecondaryExposure records a gate that was consulted transitively while
// evaluating another spec. The shape matches the exposure wire format.
type SecondaryExposure struct {
	Gate      string `json:"gate"`
	GateValue string `json:"gateValue"`
	RuleID    string `json:"ruleID"`
}

// Result is the outcome of evaluating one spec against a user.
//
// RequiresNetwork reports that the spec used a condition kind the evaluator
// cannot replicate offline (segment lists, environment fields, anything
// unrecognized); the caller should treat the local result as unusable and
// fall back to server-computed values.
type Result struct {
	Pass               bool
	JSONValue          map[string]any
	RuleID             string
	GroupName          string
	IsExperimentGroup  bool
	SecondaryExposures []SecondaryExposure
	RequiresNetwork    bool
}
