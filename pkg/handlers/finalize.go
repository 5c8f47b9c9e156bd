package handlers

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// DeregisterImage deregisters the AMI built for this job and deletes every
// snapshot it referenced, when --delete-ami was requested.
func DeregisterImage(ctx *Context) types.HandlerResult {
	if !ctx.Config.DeleteAMI {
		return ok("AMI retention requested, leaving image in place", nil)
	}
	images, err := ctx.Compute.DescribeImages(ctx.Record.ImageId)
	if err != nil {
		return fail(fmt.Sprintf("describe image %s: %s", ctx.Record.ImageId, err))
	}
	var snapshots []string
	if len(images) == 1 {
		for _, bdm := range images[0].BlockDeviceMappings {
			if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
				snapshots = append(snapshots, aws.StringValue(bdm.Ebs.SnapshotId))
			}
		}
	}
	if err := ctx.Compute.DeregisterImage(ctx.Record.ImageId); err != nil {
		return fail(fmt.Sprintf("deregister image %s: %s", ctx.Record.ImageId, err))
	}
	for _, snap := range snapshots {
		if err := ctx.Compute.DeleteSnapshot(snap); err != nil {
			return fail(fmt.Sprintf("delete snapshot %s: %s", snap, err))
		}
	}
	return ok(fmt.Sprintf("deregistered image %s and %d snapshots", ctx.Record.ImageId, len(snapshots)), nil)
}
