// Package config holds the effective configuration of one conversion run:
// one field per entry in spec.md §6's configuration surface, populated from
// cobra flags and an optional YAML overlay.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BillingModel is the target billing model for the conversion.
type BillingModel string

const (
	BillingModelSpot     BillingModel = "spot"
	BillingModelOnDemand BillingModel = "on-demand"
)

// Config is the effective, typed configuration for a single invocation.
// Drift detection (§4.3.c) compares the Snapshot of two Configs key by key;
// only the fields Snapshot includes are recognized keys for it.
type Config struct {
	InstanceID string `yaml:"instance-id"`

	TargetBillingModel BillingModel `yaml:"target-billing-model"`
	TargetInstanceType string       `yaml:"target-instance-type,omitempty"`

	IgnoreUserData           bool `yaml:"ignore-userdata,omitempty"`
	IgnoreHibernationOptions bool `yaml:"ignore-hibernation-options,omitempty"`

	// CPUOptions is either a JSON object string (explicit override) or the
	// literal "ignore" (suppress carry-forward). Empty means "carry forward
	// unchanged", the default.
	CPUOptions string `yaml:"cpu-options,omitempty"`

	MaxSpotPrice float64 `yaml:"max-spot-price,omitempty"`

	VolumeKMSKeyID string `yaml:"volume-kms-key-id,omitempty"`

	StopInstance   bool `yaml:"stop-instance,omitempty"`
	RebootIfNeeded bool `yaml:"reboot-if-needed,omitempty"`

	// UpdateCWAlarms, when non-nil, enables the update-cloudwatch-alarms
	// step. An empty slice or a single "*" means "all alarms".
	UpdateCWAlarms []string `yaml:"update-cw-alarms,omitempty"`

	DeleteAMI bool `yaml:"delete-ami,omitempty"`

	// CheckTargetGroups, when non-nil, enables the four target-group steps.
	// An empty slice or a single "*" means "all target groups the instance
	// is currently registered to".
	CheckTargetGroups []string `yaml:"check-targetgroups,omitempty"`
	WaitForTGStates   []string `yaml:"wait-for-tg-states,omitempty"`

	DoNotRequireStoppedInstance bool `yaml:"do-not-require-stopped-instance,omitempty"`

	DynamoDBTableName     string `yaml:"dynamodb-tablename,omitempty"`
	GenerateDynamoDBTable bool   `yaml:"generate-dynamodb-table,omitempty"`

	Force                     bool `yaml:"force,omitempty"`
	DoNotPauseOnMajorWarnings bool `yaml:"do-not-pause-on-major-warnings,omitempty"`

	ResetStep int `yaml:"reset-step,omitempty"`

	ReviewConversionResult bool `yaml:"review-conversion-result,omitempty"`

	Region string `yaml:"region,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
}

// DefaultDynamoDBTableName is used when no --dynamodb-tablename is given.
const DefaultDynamoDBTableName = "ec2-spot-converter-state-table"

// DefaultWaitForTGStates is used when --wait-for-tg-states is not given.
var DefaultWaitForTGStates = []string{"unused", "healthy"}

// New returns a Config populated with every documented default.
func New() *Config {
	return &Config{
		TargetBillingModel: BillingModelSpot,
		DynamoDBTableName:  DefaultDynamoDBTableName,
		WaitForTGStates:    append([]string(nil), DefaultWaitForTGStates...),
	}
}

// LoadFile applies a YAML overlay onto cfg in place. Only fields present in
// the file are touched; flags applied after LoadFile always win, matching
// §4.3's "current effective configuration" semantics used for drift
// detection (flags win over file values).
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// AllTargetGroups reports whether the check-targetgroups set means "every
// target group currently registered", per the "empty or * means all" rule.
func (c *Config) AllTargetGroups() bool {
	return len(c.CheckTargetGroups) == 0 || (len(c.CheckTargetGroups) == 1 && c.CheckTargetGroups[0] == "*")
}

// TargetGroupsEnabled reports whether target-group handling is on at all.
func (c *Config) TargetGroupsEnabled() bool {
	return c.CheckTargetGroups != nil
}

// AllCWAlarms reports whether the update-cw-alarms filter means "every
// alarm with an InstanceId dimension matching this job".
func (c *Config) AllCWAlarms() bool {
	return len(c.UpdateCWAlarms) == 0 || (len(c.UpdateCWAlarms) == 1 && c.UpdateCWAlarms[0] == "*")
}

// CWAlarmsEnabled reports whether the update-cloudwatch-alarms step is on.
func (c *Config) CWAlarmsEnabled() bool {
	return c.UpdateCWAlarms != nil
}

// Snapshot returns the subset of fields the Engine persists per step for
// drift detection, as a plain map so it round-trips through
// ConversionStepCmdLineArgs' json.RawMessage values.
func (c *Config) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"instance-id":                     c.InstanceID,
		"target-billing-model":            string(c.TargetBillingModel),
		"target-instance-type":            c.TargetInstanceType,
		"ignore-userdata":                 c.IgnoreUserData,
		"ignore-hibernation-options":      c.IgnoreHibernationOptions,
		"cpu-options":                     c.CPUOptions,
		"max-spot-price":                  c.MaxSpotPrice,
		"volume-kms-key-id":               c.VolumeKMSKeyID,
		"stop-instance":                   c.StopInstance,
		"reboot-if-needed":                c.RebootIfNeeded,
		"update-cw-alarms":                c.UpdateCWAlarms,
		"delete-ami":                      c.DeleteAMI,
		"check-targetgroups":              c.CheckTargetGroups,
		"wait-for-tg-states":              c.WaitForTGStates,
		"do-not-require-stopped-instance": c.DoNotRequireStoppedInstance,
		"force":                           c.Force,
	}
}
