// Package types defines the data model shared by the conversion engine, the
// step registry and every step handler: the Job, its durable Conversion
// Record, and the artifacts handlers read and produce.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Gate controls whether a step runs for a given Config. It mirrors the three
// gate kinds named in the step registry design: unconditional, "present in
// configuration", and "absent from configuration".
type Gate struct {
	Kind GateKind
	// Key names the configuration predicate that IfPresent/IfAbsent test.
	// Ignored when Kind is GateAlways.
	Key string
}

// GateKind enumerates the tagged variant a Gate can hold.
type GateKind int

const (
	GateAlways GateKind = iota
	GateIfPresent
	GateIfAbsent
)

// Always is the zero-value unconditional gate.
var Always = Gate{Kind: GateAlways}

// IfPresent builds a gate that is open only when key is set in the Config.
func IfPresent(key string) Gate { return Gate{Kind: GateIfPresent, Key: key} }

// IfAbsent builds a gate that is open only when key is unset in the Config.
func IfAbsent(key string) Gate { return Gate{Kind: GateIfAbsent, Key: key} }

// ELBTarget is one load-balancer registration a source instance held at
// discovery time.
type ELBTarget struct {
	TargetGroupARN string `json:"target_group_arn"`
	Port           int64  `json:"port"`
}

// HandlerResult is the uniform return shape every step handler produces, per
// the contract in SPEC_FULL §4.1: ok=false aborts the run, ok=true causes the
// Engine to merge Delta into the Conversion Record and advance ConversionStep.
type HandlerResult struct {
	OK      bool
	Message string
	Delta   map[string]any
	// Rewind is set only on a rewindable failure (wait-ami-failed,
	// wait-new-instance-terminated): it names the step the Engine should
	// rewind ConversionStep to, so a re-run redoes the offending step.
	Rewind string
}

// ConversionRecord is the durable per-job document described in SPEC_FULL §3.
// Every field beyond JobId is optional; ConversionStep is what the Engine
// reads to tell how far a job has progressed. Handler-private scratch data that
// isn't part of the documented artifact contract lives in Extra.
type ConversionRecord struct {
	JobId       string `json:"JobId"`
	ToolVersion string `json:"ToolVersion,omitempty"`

	ConversionStep        string            `json:"ConversionStep,omitempty"`
	ConversionStepReasons map[string]string `json:"ConversionStepReasons,omitempty"`
	// ConversionStepCmdLineArgs snapshots the effective configuration at the
	// time each step ran, keyed by step name, for drift detection.
	ConversionStepCmdLineArgs map[string]json.RawMessage `json:"ConversionStepCmdLineArgs,omitempty"`

	InitialInstanceState             json.RawMessage `json:"InitialInstanceState,omitempty"`
	SpotRequest                      json.RawMessage `json:"SpotRequest,omitempty"`
	CPUOptions                       json.RawMessage `json:"CPUOptions,omitempty"`
	VolumeDetails                    json.RawMessage `json:"VolumeDetails,omitempty"`
	ELBTargets                       []ELBTarget     `json:"ELBTargets,omitempty"`
	ConversionStartInstanceState     json.RawMessage `json:"ConversionStartInstanceState,omitempty"`
	EniIds                           []string        `json:"EniIds,omitempty"`
	DetachedVolumes                  []string        `json:"DetachedVolumes,omitempty"`
	WithoutExtraVolumesInstanceState json.RawMessage `json:"WithoutExtraVolumesInstanceState,omitempty"`
	VolumesInAMI                     json.RawMessage `json:"VolumesInAMI,omitempty"`
	ImageId                          string          `json:"ImageId,omitempty"`
	InstanceStateCheckpoint          json.RawMessage `json:"InstanceStateCheckpoint,omitempty"`
	UserData                         string          `json:"UserData,omitempty"`
	ElasticGPUs                      json.RawMessage `json:"ElasticGPUs,omitempty"`
	NewInstanceLaunchSpecification   json.RawMessage `json:"NewInstanceLaunchSpecification,omitempty"`
	NewInstanceId                    string          `json:"NewInstanceId,omitempty"`
	NewInstanceDetails               json.RawMessage `json:"NewInstanceDetails,omitempty"`
	ReattachedVolumesInstanceState   json.RawMessage `json:"ReattachedVolumesInstanceState,omitempty"`
	FinalInstanceState               json.RawMessage `json:"FinalInstanceState,omitempty"`

	StartTime  time.Time `json:"StartTime,omitempty"`
	StartDate  string    `json:"StartDate,omitempty"`
	EndTime    time.Time `json:"EndTime,omitempty"`
	FailedStop bool      `json:"FailedStop,omitempty"`
	Rebooted   bool      `json:"Rebooted,omitempty"`

	// Extra holds any artifact key not named above, so handlers can persist
	// additional scratch values without widening this struct.
	Extra map[string]json.RawMessage `json:"Extra,omitempty"`
}

// NewConversionRecord returns the minimal record created when a Job has no
// prior state: only JobId is set.
func NewConversionRecord(jobID string) *ConversionRecord {
	return &ConversionRecord{JobId: jobID}
}

// ApplyDelta merges a handler's delta into the record: recognized artifact
// keys go to their named field, JobId is ignored (a handler never rewrites
// it), and everything else lands in Extra. This is how the Engine
// implements spec.md §4.3.e ("persist every key of delta except JobId").
func (r *ConversionRecord) ApplyDelta(delta map[string]any) error {
	for key, value := range delta {
		if key == "JobId" {
			continue
		}
		if err := r.setField(key, value); err != nil {
			return fmt.Errorf("apply delta key %q: %w", key, err)
		}
	}
	return nil
}

func (r *ConversionRecord) setField(key string, value any) error {
	switch key {
	case "ToolVersion":
		r.ToolVersion = value.(string)
	case "InitialInstanceState":
		r.InitialInstanceState = asRawMessage(value)
	case "SpotRequest":
		r.SpotRequest = asRawMessage(value)
	case "CPUOptions":
		r.CPUOptions = asRawMessage(value)
	case "VolumeDetails":
		r.VolumeDetails = asRawMessage(value)
	case "ELBTargets":
		targets, ok := value.([]ELBTarget)
		if !ok {
			return fmt.Errorf("expected []ELBTarget, got %T", value)
		}
		r.ELBTargets = targets
	case "ConversionStartInstanceState":
		r.ConversionStartInstanceState = asRawMessage(value)
	case "EniIds":
		ids, ok := value.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", value)
		}
		r.EniIds = ids
	case "DetachedVolumes":
		ids, ok := value.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", value)
		}
		r.DetachedVolumes = ids
	case "WithoutExtraVolumesInstanceState":
		r.WithoutExtraVolumesInstanceState = asRawMessage(value)
	case "VolumesInAMI":
		r.VolumesInAMI = asRawMessage(value)
	case "ImageId":
		r.ImageId = value.(string)
	case "InstanceStateCheckpoint":
		r.InstanceStateCheckpoint = asRawMessage(value)
	case "UserData":
		r.UserData = value.(string)
	case "ElasticGPUs":
		r.ElasticGPUs = asRawMessage(value)
	case "NewInstanceLaunchSpecification":
		r.NewInstanceLaunchSpecification = asRawMessage(value)
	case "NewInstanceId":
		r.NewInstanceId = value.(string)
	case "NewInstanceDetails":
		r.NewInstanceDetails = asRawMessage(value)
	case "ReattachedVolumesInstanceState":
		r.ReattachedVolumesInstanceState = asRawMessage(value)
	case "FinalInstanceState":
		r.FinalInstanceState = asRawMessage(value)
	case "StartTime":
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		r.StartTime = t
	case "StartDate":
		r.StartDate = value.(string)
	case "EndTime":
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		r.EndTime = t
	case "FailedStop":
		r.FailedStop = value.(bool)
	case "Rebooted":
		r.Rebooted = value.(bool)
	default:
		if r.Extra == nil {
			r.Extra = map[string]json.RawMessage{}
		}
		r.Extra[key] = asRawMessage(value)
	}
	return nil
}

// asRawMessage accepts either a value already carried as json.RawMessage
// (the common case — handlers marshal AWS SDK types themselves) or any other
// marshalable value, and normalizes it to json.RawMessage.
func asRawMessage(value any) json.RawMessage {
	if raw, ok := value.(json.RawMessage); ok {
		return raw
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage("null")
	}
	return encoded
}
