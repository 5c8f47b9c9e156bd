package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func describeOne(ctx *Context, instanceID string) (*ec2.Instance, error) {
	instances, err := ctx.Compute.DescribeInstances(instanceID)
	if err != nil {
		return nil, err
	}
	if len(instances) != 1 {
		return nil, fmt.Errorf("expected exactly one instance for %s, found %d", instanceID, len(instances))
	}
	return instances[0], nil
}

// StopInstance issues the stop call, or records FailedStop and proceeds if
// stopping is disallowed, or skips if the instance is already stopped.
func StopInstance(ctx *Context) types.HandlerResult {
	instance, err := describeOne(ctx, ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("describe instance: %s", err))
	}
	if aws.StringValue(instance.State.Name) == ec2.InstanceStateNameStopped {
		return ok("instance already stopped", nil)
	}
	if ctx.Config.DoNotRequireStoppedInstance {
		return ok("stopping disallowed by configuration, proceeding with a running instance", map[string]any{"FailedStop": true})
	}
	if err := ctx.Compute.StopInstance(ctx.Config.InstanceID, false); err != nil {
		return fail(fmt.Sprintf("stop instance: %s", err))
	}
	return ok("stop requested", nil)
}

// WaitStopInstance polls every 15s up to 100 attempts, per spec.md §4.4.
func WaitStopInstance(ctx *Context) types.HandlerResult {
	if ctx.Record.FailedStop {
		return ok("skipping wait, instance was not asked to stop", nil)
	}
	instance, err := describeOne(ctx, ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("describe instance: %s", err))
	}
	if aws.StringValue(instance.State.Name) == ec2.InstanceStateNameStopped {
		return ok("instance already stopped", nil)
	}

	err = pollUntil("wait-stop-instance", 100, 15*time.Second, nil, func(attempt int) (bool, error) {
		inst, err := describeOne(ctx, ctx.Config.InstanceID)
		if err != nil {
			return false, err
		}
		state := aws.StringValue(inst.State.Name)
		if state == ec2.InstanceStateNameTerminated {
			return false, fmt.Errorf("instance was terminated externally while waiting to stop")
		}
		return state == ec2.InstanceStateNameStopped, nil
	})
	if err != nil {
		return fail(err.Error())
	}
	return ok("instance stopped", nil)
}

// TerminateInstance cancels any persistent spot request (waiting for it to
// reach a cancellable state first) then terminates the source instance.
func TerminateInstance(ctx *Context) types.HandlerResult {
	if len(ctx.Record.SpotRequest) > 0 {
		var spotRequest ec2.SpotInstanceRequest
		if err := json.Unmarshal(ctx.Record.SpotRequest, &spotRequest); err != nil {
			return fail(fmt.Sprintf("unmarshal spot request: %s", err))
		}
		spotRequestID := aws.StringValue(spotRequest.SpotInstanceRequestId)
		if spotRequestID != "" {
			err := pollUntil("terminate-instance", 30, 10*time.Second, nil, func(attempt int) (bool, error) {
				reqs, err := ctx.Compute.DescribeSpotInstanceRequests(spotRequestID)
				if err != nil {
					return false, err
				}
				if len(reqs) != 1 {
					return true, nil // request already gone
				}
				switch aws.StringValue(reqs[0].State) {
				case "open", "disabled", "active":
					return true, nil
				default:
					return false, nil
				}
			})
			if err != nil {
				return fail(err.Error())
			}
			if err := ctx.Compute.CancelSpotInstanceRequests(spotRequestID); err != nil {
				return fail(fmt.Sprintf("cancel spot request %s: %s", spotRequestID, err))
			}
		}
	}

	if err := ctx.Compute.TerminateInstance(ctx.Config.InstanceID); err != nil {
		return fail(fmt.Sprintf("terminate instance %s: %s", ctx.Config.InstanceID, err))
	}
	return ok(fmt.Sprintf("terminated %s", ctx.Config.InstanceID), nil)
}

// WaitResourceRelease polls ENIs then the instance for release, and
// force-deletes the root volume if it was not set to be deleted on
// termination (DeleteOnTermination=false).
func WaitResourceRelease(ctx *Context) types.HandlerResult {
	if len(ctx.Record.EniIds) > 0 {
		err := pollUntil("wait-resource-release-enis", 60, 5*time.Second, nil, func(attempt int) (bool, error) {
			enis, err := ctx.Compute.DescribeNetworkInterfaces(ctx.Record.EniIds...)
			if err != nil {
				return false, err
			}
			for _, eni := range enis {
				if aws.StringValue(eni.Status) != ec2.NetworkInterfaceStatusAvailable {
					return false, nil
				}
			}
			return true, nil
		})
		if err != nil {
			return fail(err.Error())
		}
	}

	err := pollUntil("wait-resource-release-instance", 60, 5*time.Second, nil, func(attempt int) (bool, error) {
		instance, err := describeOne(ctx, ctx.Config.InstanceID)
		if err != nil {
			return false, err
		}
		return aws.StringValue(instance.State.Name) == ec2.InstanceStateNameTerminated, nil
	})
	if err != nil {
		return fail(err.Error())
	}

	if len(ctx.Record.InitialInstanceState) > 0 {
		var initial ec2.Instance
		if err := json.Unmarshal(ctx.Record.InitialInstanceState, &initial); err != nil {
			return fail(fmt.Sprintf("unmarshal initial instance state: %s", err))
		}
		for _, bdm := range initial.BlockDeviceMappings {
			if bdm.DeviceName != nil && aws.StringValue(bdm.DeviceName) == aws.StringValue(initial.RootDeviceName) &&
				bdm.Ebs != nil && !aws.BoolValue(bdm.Ebs.DeleteOnTermination) {
				volumeID := aws.StringValue(bdm.Ebs.VolumeId)
				err := pollUntil("wait-resource-release-root-volume", 60, 5*time.Second, nil, func(attempt int) (bool, error) {
					vols, err := ctx.Compute.DescribeVolumes(volumeID)
					if err != nil {
						return false, err
					}
					if len(vols) != 1 {
						return true, nil
					}
					return aws.StringValue(vols[0].State) == ec2.VolumeStateAvailable, nil
				})
				if err != nil {
					return fail(err.Error())
				}
				if err := ctx.Compute.DeleteVolume(volumeID); err != nil {
					return fail(fmt.Sprintf("force-delete root volume %s: %s", volumeID, err))
				}
			}
		}
	}

	return ok("source instance and its resources released", nil)
}

// RebootIfNeeded reboots the new instance only if a volume was attached
// post-boot and the operator asked for it.
func RebootIfNeeded(ctx *Context) types.HandlerResult {
	if !ctx.Record.Rebooted && needsReboot(ctx) && ctx.Config.RebootIfNeeded {
		if err := ctx.Compute.RebootInstance(ctx.Record.NewInstanceId); err != nil {
			return fail(fmt.Sprintf("reboot %s: %s", ctx.Record.NewInstanceId, err))
		}
		return ok("rebooted new instance to pick up post-boot volume attachments", map[string]any{"Rebooted": true})
	}
	return ok("no reboot required", nil)
}

func needsReboot(ctx *Context) bool {
	raw, ok := ctx.Record.Extra["PostBootAttachment"]
	return ok && string(raw) == "true"
}
