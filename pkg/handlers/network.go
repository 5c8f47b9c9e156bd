package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// ReattachVolumes restores tags onto AMI-created replacement volumes at
// their original device names, and reattaches every volume this job
// detached that isn't already present on the new instance.
func ReattachVolumes(ctx *Context) types.HandlerResult {
	var originalVolumes []*ec2.Volume
	if len(ctx.Record.VolumeDetails) > 0 {
		if err := json.Unmarshal(ctx.Record.VolumeDetails, &originalVolumes); err != nil {
			return fail(fmt.Sprintf("unmarshal volume details: %s", err))
		}
	}
	detached := map[string]bool{}
	for _, id := range ctx.Record.DetachedVolumes {
		detached[id] = true
	}

	checkpoint, err := checkpointedInstance(ctx)
	if err != nil {
		return fail(err.Error())
	}
	deviceByVolume := map[string]string{}
	for _, bdm := range checkpoint.BlockDeviceMappings {
		if bdm.Ebs != nil {
			deviceByVolume[aws.StringValue(bdm.Ebs.VolumeId)] = aws.StringValue(bdm.DeviceName)
		}
	}

	newInstanceID := ctx.Record.NewInstanceId

	newVolumeByDevice := map[string]string{}
	if len(originalVolumes) > 0 {
		newInstance, err := describeOne(ctx, newInstanceID)
		if err != nil {
			return fail(fmt.Sprintf("describe new instance: %s", err))
		}
		for _, bdm := range newInstance.BlockDeviceMappings {
			if bdm.Ebs != nil {
				newVolumeByDevice[aws.StringValue(bdm.DeviceName)] = aws.StringValue(bdm.Ebs.VolumeId)
			}
		}
	}

	var retagged int
	for _, vol := range originalVolumes {
		volumeID := aws.StringValue(vol.VolumeId)
		replacementID := newVolumeByDevice[deviceByVolume[volumeID]]
		if detached[volumeID] || len(vol.Tags) == 0 || replacementID == "" {
			continue
		}
		tags := map[string]string{}
		for _, t := range vol.Tags {
			tags[aws.StringValue(t.Key)] = aws.StringValue(t.Value)
		}
		if err := ctx.Compute.CreateTags([]string{replacementID}, tags); err != nil {
			return fail(fmt.Sprintf("retag volume %s: %s", replacementID, err))
		}
		retagged++
	}

	var attached int
	var postBoot bool
	for _, volumeID := range ctx.Record.DetachedVolumes {
		vols, err := ctx.Compute.DescribeVolumes(volumeID)
		if err != nil {
			return fail(fmt.Sprintf("describe volume %s: %s", volumeID, err))
		}
		if len(vols) != 1 {
			continue
		}
		alreadyAttached := false
		for _, att := range vols[0].Attachments {
			if aws.StringValue(att.InstanceId) == newInstanceID {
				alreadyAttached = true
				break
			}
		}
		if alreadyAttached {
			continue
		}
		device := deviceByVolume[volumeID]
		if device == "" {
			return fail(fmt.Sprintf("no original device name recorded for volume %s", volumeID))
		}
		if err := ctx.Compute.AttachVolume(volumeID, newInstanceID, device); err != nil {
			return fail(fmt.Sprintf("attach volume %s to %s: %s", volumeID, newInstanceID, err))
		}
		attached++
		postBoot = true
	}

	delta := map[string]any{}
	if postBoot && !ctx.Config.RebootIfNeeded {
		ctx.Logger.Warn().Str("instance_id", newInstanceID).Msg("volume attached after boot; pass --reboot-if-needed to pick it up without a manual reboot")
	}
	if postBoot {
		delta["PostBootAttachment"] = json.RawMessage([]byte("true"))
	}

	return ok(fmt.Sprintf("retagged %d volumes, attached %d volumes", retagged, attached), delta)
}

// ConfigureNetworkInterfaces restores each ENI's DeleteOnTermination flag to
// its value on the source instance.
func ConfigureNetworkInterfaces(ctx *Context) types.HandlerResult {
	checkpoint, err := checkpointedInstance(ctx)
	if err != nil {
		return fail(err.Error())
	}
	var restored int
	for _, iface := range checkpoint.NetworkInterfaces {
		if iface.Attachment == nil {
			continue
		}
		newEnis, err := ctx.Compute.DescribeNetworkInterfaces(aws.StringValue(iface.NetworkInterfaceId))
		if err != nil {
			return fail(fmt.Sprintf("describe network interface %s: %s", aws.StringValue(iface.NetworkInterfaceId), err))
		}
		if len(newEnis) != 1 || newEnis[0].Attachment == nil {
			continue
		}
		err = ctx.Compute.ModifyNetworkInterfaceAttribute(&ec2.ModifyNetworkInterfaceAttributeInput{
			NetworkInterfaceId: iface.NetworkInterfaceId,
			Attachment: &ec2.NetworkInterfaceAttachmentChanges{
				AttachmentId:        newEnis[0].Attachment.AttachmentId,
				DeleteOnTermination: iface.Attachment.DeleteOnTermination,
			},
		})
		if err != nil {
			return fail(fmt.Sprintf("restore DeleteOnTermination on %s: %s", aws.StringValue(iface.NetworkInterfaceId), err))
		}
		restored++
	}
	return ok(fmt.Sprintf("restored DeleteOnTermination on %d network interfaces", restored), nil)
}

// ManageElasticIP re-associates any Elastic IP the source instance's ENIs
// held, onto the same ENI id (the new instance reuses the source instance's
// ENIs, so the id is unchanged; only the PublicIp/AllocationId association
// was lost when the source instance was terminated). Matching by PublicIp
// against an unfiltered DescribeAddresses is required: describe-addresses'
// instance-id filter can't find anything once the source instance is gone.
func ManageElasticIP(ctx *Context) types.HandlerResult {
	var instance ec2.Instance
	if err := json.Unmarshal(ctx.Record.InitialInstanceState, &instance); err != nil {
		return fail(fmt.Sprintf("unmarshal instance descriptor: %s", err))
	}

	addresses, err := ctx.Compute.DescribeAddresses()
	if err != nil {
		return fail(fmt.Sprintf("describe addresses: %s", err))
	}
	byPublicIP := map[string]*ec2.Address{}
	for _, addr := range addresses {
		if addr.PublicIp != nil {
			byPublicIP[aws.StringValue(addr.PublicIp)] = addr
		}
	}

	var reassociated int
	for _, iface := range instance.NetworkInterfaces {
		if iface.Association == nil || iface.Association.PublicIp == nil {
			continue
		}
		addr, ok := byPublicIP[aws.StringValue(iface.Association.PublicIp)]
		if !ok || addr.AllocationId == nil {
			continue
		}
		eniID := aws.StringValue(iface.NetworkInterfaceId)
		if err := ctx.Compute.AssociateAddressToENI(aws.StringValue(addr.AllocationId), eniID); err != nil {
			return fail(fmt.Sprintf("associate address %s with network interface %s: %s", aws.StringValue(addr.AllocationId), eniID, err))
		}
		reassociated++
	}
	return ok(fmt.Sprintf("reassociated %d elastic IPs", reassociated), nil)
}
