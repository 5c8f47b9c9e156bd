package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// DetachVolumes detaches every non-root, DeleteOnTermination=false volume
// still attached to the source instance, per spec.md §4.4 "Detach-volumes".
func DetachVolumes(ctx *Context) types.HandlerResult {
	var instance ec2.Instance
	if err := json.Unmarshal(ctx.Record.InitialInstanceState, &instance); err != nil {
		return fail(fmt.Sprintf("unmarshal instance descriptor: %s", err))
	}
	rootDevice := aws.StringValue(instance.RootDeviceName)

	var toDetach []string
	for _, bdm := range instance.BlockDeviceMappings {
		if bdm.Ebs == nil || aws.StringValue(bdm.DeviceName) == rootDevice {
			continue
		}
		if aws.BoolValue(bdm.Ebs.DeleteOnTermination) {
			continue
		}
		volumeID := aws.StringValue(bdm.Ebs.VolumeId)
		vols, err := ctx.Compute.DescribeVolumes(volumeID)
		if err != nil {
			return fail(fmt.Sprintf("describe volume %s: %s", volumeID, err))
		}
		if len(vols) != 1 || aws.StringValue(vols[0].State) != ec2.VolumeStateInUse {
			continue
		}
		stillAttached := false
		for _, att := range vols[0].Attachments {
			if aws.StringValue(att.InstanceId) == ctx.Config.InstanceID && aws.StringValue(att.State) == ec2.VolumeAttachmentStateAttached {
				stillAttached = true
				break
			}
		}
		if !stillAttached {
			continue
		}
		if err := ctx.Compute.DetachVolume(volumeID, ctx.Config.InstanceID, aws.StringValue(bdm.DeviceName), false); err != nil {
			return fail(fmt.Sprintf("detach volume %s: %s", volumeID, err))
		}
		toDetach = append(toDetach, volumeID)
	}

	return ok(fmt.Sprintf("detaching %d volumes", len(toDetach)), map[string]any{"DetachedVolumes": toDetach})
}

// WaitVolumeDetach polls every 5s up to 60 attempts until every detached
// volume is available (or, for multi-attach volumes, disassociated from the
// source instance).
func WaitVolumeDetach(ctx *Context) types.HandlerResult {
	if len(ctx.Record.DetachedVolumes) == 0 {
		return ok("no volumes to wait for", nil)
	}
	err := pollUntil("wait-volume-detach", 60, 5*time.Second, nil, func(attempt int) (bool, error) {
		vols, err := ctx.Compute.DescribeVolumes(ctx.Record.DetachedVolumes...)
		if err != nil {
			return false, err
		}
		for _, v := range vols {
			if aws.StringValue(v.State) == ec2.VolumeStateAvailable {
				continue
			}
			stillOurs := false
			for _, att := range v.Attachments {
				if aws.StringValue(att.InstanceId) == ctx.Config.InstanceID {
					stillOurs = true
					break
				}
			}
			if stillOurs {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fail(err.Error())
	}
	return ok("all volumes detached", nil)
}
