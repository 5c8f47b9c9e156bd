package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// boardAssetTagPath is where Nitro-based EC2 instances expose their own
// instance id as the DMI board asset tag.
const boardAssetTagPath = "/sys/devices/virtual/dmi/id/board_asset_tag"

// readBoardAssetTag is swapped out in tests. It reads the local machine's
// DMI board asset tag, which on an EC2 Nitro instance equals that instance's
// own instance id.
var readBoardAssetTag = func() (string, error) {
	data, err := os.ReadFile(boardAssetTagPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// cpuOptionsMatch reports whether --cpu-options, if given, equals the
// instance's current CPU options. Comparison is done on decoded JSON objects
// rather than raw strings so key ordering inside nested structures can't
// produce a false mismatch. An unset --cpu-options trivially matches: there
// is nothing requested to differ from the current state.
func cpuOptionsMatch(ctx *Context, instance *ec2.Instance) bool {
	switch ctx.Config.CPUOptions {
	case "":
		return true
	case "ignore":
		return false
	}
	var want map[string]interface{}
	if err := json.Unmarshal([]byte(ctx.Config.CPUOptions), &want); err != nil {
		return false
	}
	currentJSON, err := json.Marshal(instance.CpuOptions)
	if err != nil {
		return false
	}
	var current map[string]interface{}
	if err := json.Unmarshal(currentJSON, &current); err != nil {
		return false
	}
	// The SDK marshals unset fields as null; drop them so only the fields the
	// instance actually reports are compared.
	for key, value := range current {
		if value == nil {
			delete(current, key)
		}
	}
	return reflect.DeepEqual(want, current)
}

// ReadStateTable confirms the record the Engine already loaded; it never
// touches the cloud. It exists as its own registry step so that a fresh job
// (no prior ConversionStep) and a resumed job both leave an explicit, logged
// trace of where the run started.
func ReadStateTable(ctx *Context) types.HandlerResult {
	if ctx.Record.ConversionStep == "" {
		return ok("new job, no prior state", nil)
	}
	return ok(fmt.Sprintf("resuming from step %q", ctx.Record.ConversionStep), nil)
}

// DiscoverInstanceState implements the eligibility checks and capture
// described in spec.md §4.4 "Discovery".
func DiscoverInstanceState(ctx *Context) types.HandlerResult {
	if tag, err := readBoardAssetTag(); err == nil && tag == ctx.Config.InstanceID {
		return fail(fmt.Sprintf("this tool is running on instance %s itself; invoke it from a separate host", ctx.Config.InstanceID))
	}

	instances, err := ctx.Compute.DescribeInstances(ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("describe instance %s: %s", ctx.Config.InstanceID, err))
	}
	if len(instances) != 1 {
		return fail(fmt.Sprintf("expected exactly one instance for %s, found %d", ctx.Config.InstanceID, len(instances)))
	}
	instance := instances[0]

	disableTermination, err := ctx.Compute.DescribeDisableAPITermination(ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("check termination protection: %s", err))
	}
	if disableTermination {
		return fail("instance has API termination protection enabled; disable it before converting")
	}

	isSpot := instance.InstanceLifecycle != nil && aws.StringValue(instance.InstanceLifecycle) == "spot"
	currentType := aws.StringValue(instance.InstanceType)
	wantType := ctx.Config.TargetInstanceType
	sameType := wantType == "" || wantType == currentType

	var spotRequest *ec2.SpotInstanceRequest
	if instance.SpotInstanceRequestId != nil {
		reqs, err := ctx.Compute.DescribeSpotInstanceRequests(aws.StringValue(instance.SpotInstanceRequestId))
		if err != nil {
			return fail(fmt.Sprintf("describe spot request %s: %s", aws.StringValue(instance.SpotInstanceRequestId), err))
		}
		if len(reqs) == 1 {
			spotRequest = reqs[0]
		}
	}

	switch ctx.Config.TargetBillingModel {
	case config.BillingModelSpot:
		if !ctx.Config.Force && isSpot && sameType && cpuOptionsMatch(ctx, instance) {
			return fail("instance is already spot with the requested instance type and CPU options; pass --force to convert anyway")
		}
	case config.BillingModelOnDemand:
		if !ctx.Config.Force && !isSpot {
			return fail("instance is already on-demand; pass --force to convert anyway")
		}
	}
	// Unlike the two "already in target state" checks above, --force never
	// bypasses this: a non-persistent spot request can't be safely cancelled
	// and relaunched as part of a conversion.
	if isSpot && spotRequest != nil && aws.StringValue(spotRequest.Type) != ec2.SpotInstanceTypePersistent {
		return fail("source spot request is not persistent")
	}

	if isSpot && (spotRequest == nil || aws.StringValue(spotRequest.State) == ec2.SpotInstanceStateCancelled) {
		if ctx.PauseOnMajorWarning != nil {
			ctx.PauseOnMajorWarning("spot request is missing or cancelled")
		}
	}

	volumeIDs := make([]string, 0, len(instance.BlockDeviceMappings))
	for _, bdm := range instance.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.VolumeId != nil {
			volumeIDs = append(volumeIDs, aws.StringValue(bdm.Ebs.VolumeId))
		}
	}
	var volumes []*ec2.Volume
	if len(volumeIDs) > 0 {
		volumes, err = ctx.Compute.DescribeVolumes(volumeIDs...)
		if err != nil {
			return fail(fmt.Sprintf("describe volumes %v: %s", volumeIDs, err))
		}
	}

	var elbTargets []types.ELBTarget
	if ctx.Config.TargetGroupsEnabled() {
		groups, err := ctx.LoadBalancer.DescribeTargetGroupsForInstance(ctx.Config.InstanceID)
		if err != nil {
			return fail(fmt.Sprintf("describe target groups for %s: %s", ctx.Config.InstanceID, err))
		}
		for _, g := range groups {
			if !ctx.Config.AllTargetGroups() && !contains(ctx.Config.CheckTargetGroups, aws.StringValue(g.TargetGroupArn)) {
				continue
			}
			elbTargets = append(elbTargets, types.ELBTarget{
				TargetGroupARN: aws.StringValue(g.TargetGroupArn),
				Port:           aws.Int64Value(g.Port),
			})
		}
	}

	instanceJSON, err := json.Marshal(instance)
	if err != nil {
		return fail(fmt.Sprintf("marshal instance descriptor: %s", err))
	}
	volumesJSON, err := json.Marshal(volumes)
	if err != nil {
		return fail(fmt.Sprintf("marshal volume descriptors: %s", err))
	}
	cpuOptionsJSON, err := json.Marshal(instance.CpuOptions)
	if err != nil {
		return fail(fmt.Sprintf("marshal cpu options: %s", err))
	}

	delta := map[string]any{
		"InitialInstanceState": json.RawMessage(instanceJSON),
		"VolumeDetails":        json.RawMessage(volumesJSON),
		"CPUOptions":           json.RawMessage(cpuOptionsJSON),
		"ELBTargets":           elbTargets,
	}
	if spotRequest != nil {
		spotJSON, err := json.Marshal(spotRequest)
		if err != nil {
			return fail(fmt.Sprintf("marshal spot request: %s", err))
		}
		delta["SpotRequest"] = json.RawMessage(spotJSON)
	}

	return ok(fmt.Sprintf("discovered instance %s (%s, %s)", ctx.Config.InstanceID, currentType, strings.ToUpper(boolString(isSpot, "spot", "on-demand"))), delta)
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func boolString(b bool, ifTrue, ifFalse string) string {
	if b {
		return ifTrue
	}
	return ifFalse
}
