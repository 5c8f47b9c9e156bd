// Package engine implements the Conversion Engine (spec.md §4.3): the main
// algorithm that walks the Step Registry in order against a Job's
// Conversion Record, handling gating, resumability, drift detection and
// operator-triggered rewinds.
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ec2-spot-converter/pkg/cloudapi"
	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/handlers"
	"github.com/cuemby/ec2-spot-converter/pkg/metrics"
	"github.com/cuemby/ec2-spot-converter/pkg/registry"
	"github.com/cuemby/ec2-spot-converter/pkg/store"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// Clients bundles every injected cloud capability a handler may need.
type Clients struct {
	Compute       cloudapi.Compute
	Accelerator   cloudapi.Accelerator
	KeyManagement cloudapi.KeyManagement
	LoadBalancer  cloudapi.LoadBalancer
	MetricAlarm   cloudapi.MetricAlarm
}

// Engine owns one run of the conversion against a single Job.
type Engine struct {
	Store   store.Store
	Clients Clients
	Logger  zerolog.Logger

	// PauseOnMajorWarning is forwarded into handlers.Context; nil means no
	// pause at all, since handlers skip the call when it is unset.
	PauseOnMajorWarning func(reason string)
}

// Report summarizes a completed or aborted run.
type Report struct {
	JobId         string
	NewInstanceId string
	Completed     bool
	Elapsed       time.Duration
}

// Run executes the registry against cfg.InstanceID (the JobId) from wherever
// the persisted record left off.
func (e *Engine) Run(cfg *config.Config) (*Report, error) {
	jobID := cfg.InstanceID
	start := time.Now()
	runID := uuid.NewString()
	logger := e.Logger.With().Str("job_id", jobID).Str("run_id", runID).Logger()

	rec, err := e.Store.Get(jobID)
	if err == store.ErrNotFound {
		rec = types.NewConversionRecord(jobID)
	} else if err != nil {
		return nil, fmt.Errorf("load conversion record: %w", err)
	}

	resumeFromIndex := -1
	if rec.ConversionStep != "" {
		resumeFromIndex = registry.IndexOf(rec.ConversionStep)
	}

	var lastSnapshot map[string]interface{}
	currentSnapshot := cfg.Snapshot()

	for i, step := range registry.Steps {
		stepLogger := logger.With().Str("step", step.Name).Logger()

		if !registry.GateOpen(step.Gate, cfg) {
			stepLogger.Info().Msg("SKIPPED (gate)")
			continue
		}

		if resumeFromIndex >= 0 && i <= resumeFromIndex {
			message := rec.ConversionStepReasons[step.Name]
			stepLogger.Info().Str("message", message).Msg("RECOVERED STATE. SKIPPED")
			if snap, ok := rec.ConversionStepCmdLineArgs[step.Name]; ok {
				var decoded map[string]interface{}
				if jsonErr := unmarshalSnapshot(snap, &decoded); jsonErr == nil {
					lastSnapshot = decoded
				}
			}
			continue
		}

		if lastSnapshot != nil {
			if changed := diffSnapshots(lastSnapshot, currentSnapshot); len(changed) > 0 {
				metrics.DriftWarningsTotal.WithLabelValues(step.Name).Inc()
				stepLogger.Warn().Interface("changed", changed).Msg("configuration drift detected since last completed step")
			}
		}

		timer := metrics.NewTimer()
		result := step.Handler(&handlers.Context{
			Record:              rec,
			Config:              cfg,
			Compute:             e.Clients.Compute,
			Accelerator:         e.Clients.Accelerator,
			KeyManagement:       e.Clients.KeyManagement,
			LoadBalancer:        e.Clients.LoadBalancer,
			MetricAlarm:         e.Clients.MetricAlarm,
			Logger:              stepLogger,
			PauseOnMajorWarning: e.PauseOnMajorWarning,
		})
		timer.ObserveDurationVec(metrics.StepDuration, step.Name)

		if !result.OK {
			metrics.StepOutcomesTotal.WithLabelValues(step.Name, "failed").Inc()
			stepLogger.Error().Str("message", result.Message).Msg("step failed")

			if result.Rewind != "" {
				metrics.RewindsTotal.WithLabelValues(result.Rewind, "handler").Inc()
				rec.ConversionStep = result.Rewind
				if err := e.Store.Put(rec, true); err != nil {
					stepLogger.Error().Err(err).Msg("failed to persist rewind")
				}
				stepLogger.Warn().Str("rewound_to", result.Rewind).Msg("rewinding conversion step for re-run")
			}

			metrics.ConversionsTotal.WithLabelValues("failed").Inc()
			return &Report{JobId: jobID, Completed: false, Elapsed: time.Since(start)}, fmt.Errorf("%s: %s", step.Name, result.Message)
		}

		metrics.StepOutcomesTotal.WithLabelValues(step.Name, "ok").Inc()

		if err := rec.ApplyDelta(result.Delta); err != nil {
			return nil, fmt.Errorf("%s: apply delta: %w", step.Name, err)
		}
		rec.ConversionStep = step.Name
		if rec.ConversionStepReasons == nil {
			rec.ConversionStepReasons = map[string]string{}
		}
		rec.ConversionStepReasons[step.Name] = result.Message
		snapshotJSON, err := marshalSnapshot(currentSnapshot)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal config snapshot: %w", step.Name, err)
		}
		if rec.ConversionStepCmdLineArgs == nil {
			rec.ConversionStepCmdLineArgs = map[string]json.RawMessage{}
		}
		rec.ConversionStepCmdLineArgs[step.Name] = snapshotJSON

		if err := e.Store.Put(rec, true); err != nil {
			return nil, fmt.Errorf("%s: persist record: %w", step.Name, err)
		}

		lastSnapshot = currentSnapshot
		stepLogger.Info().Str("message", result.Message).Msg("step completed")
	}

	metrics.ConversionsTotal.WithLabelValues("completed").Inc()
	elapsed := time.Since(start)
	metrics.ConversionDuration.Observe(elapsed.Seconds())

	return &Report{JobId: jobID, NewInstanceId: rec.NewInstanceId, Completed: true, Elapsed: elapsed}, nil
}

// ResetStep implements the operator rewind control from spec.md §4.3.
// n == 1 deletes the record outright; 1 < n <= len(steps) overwrites
// ConversionStep with the name of the (n-1)th step.
func (e *Engine) ResetStep(jobID string, n int) error {
	if n == 1 {
		return e.Store.Delete(jobID)
	}
	if n <= 1 || n > len(registry.Steps) {
		return fmt.Errorf("reset-step %d out of range [1,%d]", n, len(registry.Steps))
	}
	rec, err := e.Store.Get(jobID)
	if err == store.ErrNotFound {
		rec = types.NewConversionRecord(jobID)
	} else if err != nil {
		return fmt.Errorf("load conversion record: %w", err)
	}
	target := registry.Steps[n-2].Name
	metrics.RewindsTotal.WithLabelValues(target, "operator").Inc()
	e.Logger.Warn().Str("job_id", jobID).Str("rewound_to", target).Msg("operator rewind: bypassing gate/order checks")
	rec.ConversionStep = target
	return e.Store.Put(rec, true)
}

func marshalSnapshot(snapshot map[string]interface{}) (json.RawMessage, error) {
	return json.Marshal(snapshot)
}

func unmarshalSnapshot(raw json.RawMessage, out *map[string]interface{}) error {
	return json.Unmarshal(raw, out)
}

// diffSnapshots returns the set of recognized keys whose value differs
// between two configuration snapshots, per spec.md §4.3.c.
func diffSnapshots(prev, current map[string]interface{}) map[string][2]interface{} {
	changed := map[string][2]interface{}{}
	for key, curVal := range current {
		prevVal, existed := prev[key]
		if !existed {
			continue
		}
		prevJSON, _ := json.Marshal(prevVal)
		curJSON, _ := json.Marshal(curVal)
		if string(prevJSON) != string(curJSON) {
			changed[key] = [2]interface{}{prevVal, curVal}
		}
	}
	return changed
}
