package store

import (
	"maps"
	"slices"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/evaluator"
)

// Kind selects which value family a lookup targets.
type Kind int

const (
	KindGate Kind = iota
	KindConfig
	KindLayer
)

// Reason explains the provenance of a returned value. A caller always
// receives a value and a reason, never an unexplained default.
type Reason string

const (
	ReasonNetwork          Reason = "Network"
	ReasonCache            Reason = "Cache"
	ReasonSticky           Reason = "Sticky"
	ReasonBootstrap        Reason = "Bootstrap"
	ReasonLocalOverride    Reason = "LocalOverride"
	ReasonUnrecognized     Reason = "Unrecognized"
	ReasonUninitialized    Reason = "Uninitialized"
	ReasonError            Reason = "Error"
	ReasonNotModified      Reason = "NotModified"
	ReasonInvalidBootstrap Reason = "InvalidBootstrap"
)

// GateRecord is the wire and cache representation of one evaluated gate.
type GateRecord struct {
	Name               string                        `json:"name"`
	Value              bool                          `json:"value"`
	RuleID             string                        `json:"rule_id"`
	IDType             string                        `json:"id_type,omitempty"`
	SecondaryExposures []evaluator.SecondaryExposure `json:"secondary_exposures,omitempty"`
}

// ConfigRecord is the wire and cache representation of one evaluated dynamic
// config, experiment or layer.
type ConfigRecord struct {
	Name                          string                        `json:"name"`
	Value                         map[string]any                `json:"value"`
	RuleID                        string                        `json:"rule_id"`
	GroupName                     string                        `json:"group_name,omitempty"`
	IDType                        string                        `json:"id_type,omitempty"`
	IsDeviceBased                 bool                          `json:"is_device_based,omitempty"`
	IsUserInExperiment            bool                          `json:"is_user_in_experiment,omitempty"`
	IsExperimentActive            bool                          `json:"is_experiment_active,omitempty"`
	ExplicitParameters            []string                      `json:"explicit_parameters,omitempty"`
	AllocatedExperimentName       string                        `json:"allocated_experiment_name,omitempty"`
	SecondaryExposures            []evaluator.SecondaryExposure `json:"secondary_exposures,omitempty"`
	UndelegatedSecondaryExposures []evaluator.SecondaryExposure `json:"undelegated_secondary_exposures,omitempty"`
}

func (c ConfigRecord) clone() ConfigRecord {
	out := c
	if c.Value != nil {
		out.Value = maps.Clone(c.Value)
	}
	out.ExplicitParameters = slices.Clone(c.ExplicitParameters)
	out.SecondaryExposures = slices.Clone(c.SecondaryExposures)
	out.UndelegatedSecondaryExposures = slices.Clone(c.UndelegatedSecondaryExposures)
	return out
}

// FetchResponse is the config service's answer to a values fetch. Keys in the
// three value maps are hashed per HashUsed. Delta responses carry only
// changed entries plus deletions and must be merged onto the prior full
// snapshot.
type FetchResponse struct {
	FeatureGates   map[string]GateRecord   `json:"feature_gates"`
	DynamicConfigs map[string]ConfigRecord `json:"dynamic_configs"`
	LayerConfigs   map[string]ConfigRecord `json:"layer_configs"`
	HasUpdates     bool                    `json:"has_updates"`
	Time           int64                   `json:"time"`
	IsDelta        bool                    `json:"is_delta,omitempty"`
	DeletedGates   []string                `json:"deleted_gates,omitempty"`
	DeletedConfigs []string                `json:"deleted_configs,omitempty"`
	DeletedLayers  []string                `json:"deleted_layers,omitempty"`
	HashUsed       string                  `json:"hash_used,omitempty"`
	EvaluatedKeys  *EvaluatedKeys          `json:"evaluated_keys,omitempty"`
	UserHash       string                  `json:"user_hash,omitempty"`
}

// EvaluatedKeys declares which identity a response (or bootstrap snapshot)
// was computed for. The stable ID is allowed to mismatch during validation
// because snapshot producers rarely know the device's generated ID.
type EvaluatedKeys struct {
	UserID    string            `json:"userID,omitempty"`
	CustomIDs map[string]string `json:"customIDs,omitempty"`
}

// userValues is one identity's cache entry: every evaluated record keyed by
// hashed name, sticky experiment assignments, the server's sync time and the
// local evaluation time. This is also the persisted shape; unknown JSON
// fields from newer SDK builds are ignored on read.
type userValues struct {
	FeatureGates      map[string]GateRecord   `json:"feature_gates"`
	DynamicConfigs    map[string]ConfigRecord `json:"dynamic_configs"`
	LayerConfigs      map[string]ConfigRecord `json:"layer_configs"`
	StickyExperiments map[string]ConfigRecord `json:"sticky_experiments"`
	Time              int64                   `json:"time"`
	EvaluationTime    int64                   `json:"evaluation_time"`
	HashUsed          string                  `json:"hash_used,omitempty"`
}

func newUserValues() *userValues {
	return &userValues{
		FeatureGates:      make(map[string]GateRecord),
		DynamicConfigs:    make(map[string]ConfigRecord),
		LayerConfigs:      make(map[string]ConfigRecord),
		StickyExperiments: make(map[string]ConfigRecord),
	}
}

// Evaluation is the immutable result handed to callers. Values are deep
// copies of cache state so caller mutation cannot corrupt the store.
type Evaluation struct {
	Name                          string
	Value                         bool
	JSONValue                     map[string]any
	RuleID                        string
	GroupName                     string
	IDType                        string
	Reason                        Reason
	SecondaryExposures            []evaluator.SecondaryExposure
	UndelegatedSecondaryExposures []evaluator.SecondaryExposure
	ExplicitParameters            []string
	AllocatedExperimentName       string
	IsExperimentActive            bool
	IsUserInExperiment            bool
	IsDeviceBased                 bool
	EvaluationTime                time.Time
}

func evalFromGate(name string, rec GateRecord, reason Reason) Evaluation {
	return Evaluation{
		Name:               name,
		Value:              rec.Value,
		RuleID:             rec.RuleID,
		IDType:             rec.IDType,
		Reason:             reason,
		SecondaryExposures: slices.Clone(rec.SecondaryExposures),
		EvaluationTime:     time.Now(),
	}
}

func evalFromConfig(name string, rec ConfigRecord, reason Reason) Evaluation {
	c := rec.clone()
	return Evaluation{
		Name:                          name,
		Value:                         len(c.Value) > 0,
		JSONValue:                     c.Value,
		RuleID:                        c.RuleID,
		GroupName:                     c.GroupName,
		IDType:                        c.IDType,
		Reason:                        reason,
		SecondaryExposures:            c.SecondaryExposures,
		UndelegatedSecondaryExposures: c.UndelegatedSecondaryExposures,
		ExplicitParameters:            c.ExplicitParameters,
		AllocatedExperimentName:       c.AllocatedExperimentName,
		IsExperimentActive:            c.IsExperimentActive,
		IsUserInExperiment:            c.IsUserInExperiment,
		IsDeviceBased:                 c.IsDeviceBased,
		EvaluationTime:                time.Now(),
	}
}

func defaultEvaluation(name string, reason Reason) Evaluation {
	return Evaluation{Name: name, Reason: reason, EvaluationTime: time.Now()}
}
