package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/cloudapi"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// amiName is the AMI naming convention from spec.md §6.
func amiName(jobID string) string {
	return "ec2-spot-converter-" + jobID
}

// iopsThroughputCarried reports whether a volume type carries IOPS/throughput
// in its block device mapping (gp2, st1, sc1, standard do not).
func iopsThroughputCarried(volumeType string) bool {
	switch volumeType {
	case ec2.VolumeTypeGp2, ec2.VolumeTypeSt1, ec2.VolumeTypeSc1, ec2.VolumeTypeStandard:
		return false
	default:
		return true
	}
}

// CreateAMI builds the AMI block-device mapping (root plus every
// DeleteOnTermination=true volume) and requests image creation, per
// spec.md §4.4 "Create-AMI".
func CreateAMI(ctx *Context) types.HandlerResult {
	var instance ec2.Instance
	if err := json.Unmarshal(ctx.Record.InitialInstanceState, &instance); err != nil {
		return fail(fmt.Sprintf("unmarshal instance descriptor: %s", err))
	}
	rootDevice := aws.StringValue(instance.RootDeviceName)

	var mapping []*ec2.BlockDeviceMapping
	for _, bdm := range instance.BlockDeviceMappings {
		if bdm.Ebs == nil {
			continue
		}
		include := aws.StringValue(bdm.DeviceName) == rootDevice || aws.BoolValue(bdm.Ebs.DeleteOnTermination)
		if !include {
			continue
		}
		volumeID := aws.StringValue(bdm.Ebs.VolumeId)
		vols, err := ctx.Compute.DescribeVolumes(volumeID)
		if err != nil {
			return fail(fmt.Sprintf("describe volume %s: %s", volumeID, err))
		}
		if len(vols) != 1 {
			return fail(fmt.Sprintf("expected exactly one volume for %s, found %d", volumeID, len(vols)))
		}
		vol := vols[0]
		ebs := &ec2.EbsBlockDevice{
			DeleteOnTermination: aws.Bool(true),
			VolumeSize:          vol.Size,
			VolumeType:          vol.VolumeType,
			Encrypted:           vol.Encrypted,
		}
		if iopsThroughputCarried(aws.StringValue(vol.VolumeType)) {
			ebs.Iops = vol.Iops
			ebs.Throughput = vol.Throughput
		}
		mapping = append(mapping, &ec2.BlockDeviceMapping{
			DeviceName: bdm.DeviceName,
			Ebs:        ebs,
		})
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fail(fmt.Sprintf("marshal block device mapping: %s", err))
	}

	name := amiName(ctx.Record.JobId)
	imageID, err := ctx.Compute.CreateImage(&ec2.CreateImageInput{
		InstanceId:          aws.String(ctx.Config.InstanceID),
		Name:                aws.String(name),
		BlockDeviceMappings: mapping,
		NoReboot:            aws.Bool(true),
	})
	if err != nil {
		code, _, isAWS := cloudapi.Classify(err)
		if !isAWS || code != "InvalidAMIName.Duplicate" {
			return fail(fmt.Sprintf("create image: %s", err))
		}
		// A concurrently-started image with this name may not be
		// immediately discoverable; poll rather than fail on the first miss.
		perr := pollUntil("create-ami-duplicate-recovery", 10, 5*time.Second, nil, func(attempt int) (bool, error) {
			images, derr := ctx.Compute.DescribeImages()
			if derr != nil {
				return false, derr
			}
			for _, img := range images {
				if aws.StringValue(img.Name) == name {
					imageID = aws.StringValue(img.ImageId)
					return true, nil
				}
			}
			return false, nil
		})
		if perr != nil {
			return fail(fmt.Sprintf("create image: duplicate name %s, waiting for it to become discoverable: %s", name, perr))
		}
		if imageID == "" {
			return fail(fmt.Sprintf("create image: duplicate name %s but no matching image found", name))
		}
	}

	return ok(fmt.Sprintf("creating image %s", imageID), map[string]any{
		"ImageId":      imageID,
		"VolumesInAMI": json.RawMessage(mappingJSON),
	})
}

// PrepareNetworkInterfaces clears DeleteOnTermination on every ENI attachment
// so terminating the old instance does not destroy the interface.
func PrepareNetworkInterfaces(ctx *Context) types.HandlerResult {
	if len(ctx.Record.EniIds) == 0 {
		return ok("no network interfaces to prepare", nil)
	}
	enis, err := ctx.Compute.DescribeNetworkInterfaces(ctx.Record.EniIds...)
	if err != nil {
		return fail(fmt.Sprintf("describe network interfaces: %s", err))
	}
	for _, eni := range enis {
		if eni.Attachment == nil {
			continue
		}
		err := ctx.Compute.ModifyNetworkInterfaceAttribute(&ec2.ModifyNetworkInterfaceAttributeInput{
			NetworkInterfaceId: eni.NetworkInterfaceId,
			Attachment: &ec2.NetworkInterfaceAttachmentChanges{
				AttachmentId:        eni.Attachment.AttachmentId,
				DeleteOnTermination: aws.Bool(false),
			},
		})
		if err != nil {
			return fail(fmt.Sprintf("modify network interface %s: %s", aws.StringValue(eni.NetworkInterfaceId), err))
		}
	}
	return ok(fmt.Sprintf("prepared %d network interfaces", len(enis)), nil)
}

// WaitAMI polls up to 720 attempts every 20s (a 4-hour bound for slow-copying
// snapshots). On "failed" it deregisters the image and asks the Engine to
// rewind to the predecessor of create-ami.
func WaitAMI(ctx *Context) types.HandlerResult {
	var failed bool
	err := pollUntil("wait-ami", 720, 20*time.Second, nil, func(attempt int) (bool, error) {
		images, err := ctx.Compute.DescribeImages(ctx.Record.ImageId)
		if err != nil {
			return false, err
		}
		if len(images) != 1 {
			return false, nil
		}
		switch aws.StringValue(images[0].State) {
		case ec2.ImageStateAvailable:
			return true, nil
		case ec2.ImageStateFailed:
			failed = true
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return fail(err.Error())
	}
	if failed {
		if derr := ctx.Compute.DeregisterImage(ctx.Record.ImageId); derr != nil {
			ctx.Logger.Warn().Err(derr).Str("image_id", ctx.Record.ImageId).Msg("failed to deregister failed AMI")
		}
		return rewind(fmt.Sprintf("AMI %s build failed", ctx.Record.ImageId), "wait-volume-detach")
	}
	return ok(fmt.Sprintf("AMI %s available", ctx.Record.ImageId), nil)
}
