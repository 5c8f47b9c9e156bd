// Package handlers implements the per-step handler contracts of spec.md
// §4.4: pure functions of the persisted Conversion Record and the effective
// Config, each returning ok/message/delta. Handlers never write to the
// State Store directly — the Engine owns persistence — and never retain
// state across calls.
package handlers

import (
	"github.com/rs/zerolog"

	"github.com/cuemby/ec2-spot-converter/pkg/cloudapi"
	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// Context is everything a handler needs: the current record, the effective
// configuration, the injected cloud clients, and a step-scoped logger.
type Context struct {
	Record *types.ConversionRecord
	Config *config.Config

	Compute       cloudapi.Compute
	Accelerator   cloudapi.Accelerator
	KeyManagement cloudapi.KeyManagement
	LoadBalancer  cloudapi.LoadBalancer
	MetricAlarm   cloudapi.MetricAlarm

	Logger zerolog.Logger

	// PauseOnMajorWarning is invoked by discovery when the source spot request
	// is missing or cancelled; nil skips the pause. Tests substitute a no-op.
	PauseOnMajorWarning func(reason string)
}

// Func is the uniform shape of a step handler.
type Func func(ctx *Context) types.HandlerResult

// ok builds a successful HandlerResult.
func ok(message string, delta map[string]any) types.HandlerResult {
	if delta == nil {
		delta = map[string]any{}
	}
	return types.HandlerResult{OK: true, Message: message, Delta: delta}
}

// fail builds a failed, non-rewindable HandlerResult.
func fail(message string) types.HandlerResult {
	return types.HandlerResult{OK: false, Message: message}
}

// rewind builds a failed HandlerResult that also asks the Engine to rewind
// ConversionStep back to toStep.
func rewind(message, toStep string) types.HandlerResult {
	return types.HandlerResult{OK: false, Message: message, Rewind: toStep}
}
