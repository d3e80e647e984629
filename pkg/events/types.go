package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/evaluator"
	"github.com/dmitrymomot/flagkit/pkg/identity"
	"github.com/dmitrymomot/flagkit/pkg/store"
)

// Reserved event names for SDK-generated exposures.
const (
	GateExposureEventName   = "flagkit::gate_exposure"
	ConfigExposureEventName = "flagkit::config_exposure"
	LayerExposureEventName  = "flagkit::layer_exposure"
	DiagnosticsEventName    = "flagkit::diagnostics"
)

// Event is one log entry bound for the logging endpoint. Private user
// attributes are stripped before the event is constructed.
type Event struct {
	EventName          string                        `json:"eventName"`
	User               *identity.User                `json:"user,omitempty"`
	Value              any                           `json:"value,omitempty"`
	Metadata           map[string]string             `json:"metadata,omitempty"`
	SecondaryExposures []evaluator.SecondaryExposure `json:"secondaryExposures"`
	Time               int64                         `json:"time"`
}

// PendingBatch is a failed or teardown-queued batch awaiting durable storage
// replay. Batches are bounded in total event count and age; too-old batches
// are discarded, never delivered.
type PendingBatch struct {
	Events []Event `json:"events"`
	Time   int64   `json:"time"`
}

// GateExposure builds the exposure event for a gate check.
func GateExposure(user *identity.User, eval store.Evaluation) Event {
	return Event{
		EventName: GateExposureEventName,
		User:      user.ForLogging(),
		Metadata: map[string]string{
			"gate":      eval.Name,
			"gateValue": strconv.FormatBool(eval.Value),
			"ruleID":    eval.RuleID,
			"reason":    string(eval.Reason),
			"evalTime":  strconv.FormatInt(eval.EvaluationTime.UnixMilli(), 10),
		},
		SecondaryExposures: eval.SecondaryExposures,
		Time:               time.Now().UnixMilli(),
	}
}

// ConfigExposure builds the exposure event for a config or experiment read.
func ConfigExposure(user *identity.User, eval store.Evaluation) Event {
	return Event{
		EventName: ConfigExposureEventName,
		User:      user.ForLogging(),
		Metadata: map[string]string{
			"config":   eval.Name,
			"ruleID":   eval.RuleID,
			"reason":   string(eval.Reason),
			"evalTime": strconv.FormatInt(eval.EvaluationTime.UnixMilli(), 10),
		},
		SecondaryExposures: eval.SecondaryExposures,
		Time:               time.Now().UnixMilli(),
	}
}

// LayerExposure builds the exposure event for a layer parameter access. The
// allocation metadata records whether the parameter was explicitly claimed
// by the allocated experiment, which changes which secondary exposures apply.
func LayerExposure(user *identity.User, eval store.Evaluation, parameter string) Event {
	explicit := false
	for _, p := range eval.ExplicitParameters {
		if p == parameter {
			explicit = true
			break
		}
	}
	allocated := ""
	exposures := eval.UndelegatedSecondaryExposures
	if explicit {
		allocated = eval.AllocatedExperimentName
		exposures = eval.SecondaryExposures
	}
	return Event{
		EventName: LayerExposureEventName,
		User:      user.ForLogging(),
		Metadata: map[string]string{
			"config":              eval.Name,
			"ruleID":              eval.RuleID,
			"reason":              string(eval.Reason),
			"parameterName":       parameter,
			"isExplicitParameter": strconv.FormatBool(explicit),
			"allocatedExperiment": allocated,
			"evalTime":            strconv.FormatInt(eval.EvaluationTime.UnixMilli(), 10),
		},
		SecondaryExposures: exposures,
		Time:               time.Now().UnixMilli(),
	}
}

// Diagnostics builds an SDK lifecycle marker, such as the outcome of the
// initial values fetch. Diagnostics are never deduplicated.
func Diagnostics(user *identity.User, metadata map[string]string) Event {
	return Event{
		EventName: DiagnosticsEventName,
		User:      user.ForLogging(),
		Metadata:  metadata,
		Time:      time.Now().UnixMilli(),
	}
}

// dedupeKey captures the exposure "shape": two events with the same key
// within the cooldown window are the same exposure for volume purposes.
func (e Event) dedupeKey() string {
	parts := []string{e.EventName}
	for _, k := range []string{"gate", "config", "gateValue", "ruleID", "reason", "parameterName"} {
		parts = append(parts, e.Metadata[k])
	}
	return strings.Join(parts, "|")
}

// exposure reports whether the event is an SDK-generated exposure subject to
// deduplication. Custom events always log.
func (e Event) exposure() bool {
	switch e.EventName {
	case GateExposureEventName, ConfigExposureEventName, LayerExposureEventName:
		return true
	default:
		return false
	}
}
