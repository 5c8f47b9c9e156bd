package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// jobTagKey is the resource tag every touched resource carries for the
// duration of a conversion, per spec.md §6's tagging convention.
const jobTagKey = "ec2-spot-converter:job-id"

// ToolVersion is overridable at link time (reported by --version too).
var ToolVersion = "dev"

// TagAllResources tags the instance, its ENIs and its attached volumes with
// the job-id tag. Re-tagging is a no-op on AWS, so this handler is safe to
// re-run.
func TagAllResources(ctx *Context) types.HandlerResult {
	if len(ctx.Record.InitialInstanceState) == 0 {
		return fail("no instance descriptor captured by discovery")
	}
	var instance ec2.Instance
	if err := json.Unmarshal(ctx.Record.InitialInstanceState, &instance); err != nil {
		return fail(fmt.Sprintf("unmarshal instance descriptor: %s", err))
	}

	resourceIDs := []string{ctx.Config.InstanceID}
	var eniIDs []string
	for _, iface := range instance.NetworkInterfaces {
		id := aws.StringValue(iface.NetworkInterfaceId)
		resourceIDs = append(resourceIDs, id)
		eniIDs = append(eniIDs, id)
	}
	for _, bdm := range instance.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.VolumeId != nil {
			resourceIDs = append(resourceIDs, aws.StringValue(bdm.Ebs.VolumeId))
		}
	}

	tags := map[string]string{
		jobTagKey: ctx.Record.JobId,
	}
	if err := ctx.Compute.CreateTags(resourceIDs, tags); err != nil {
		return fail(fmt.Sprintf("tag resources %v: %s", resourceIDs, err))
	}

	return ok(fmt.Sprintf("tagged %d resources", len(resourceIDs)), map[string]any{"EniIds": eniIDs})
}

// UntagResources removes the job-id tag from the new instance, its ENIs and
// the detached volumes, then snapshots FinalInstanceState and EndTime.
func UntagResources(ctx *Context) types.HandlerResult {
	resourceIDs := []string{ctx.Record.NewInstanceId}
	resourceIDs = append(resourceIDs, ctx.Record.EniIds...)
	resourceIDs = append(resourceIDs, ctx.Record.DetachedVolumes...)

	if err := ctx.Compute.DeleteTags(resourceIDs, []string{jobTagKey}); err != nil {
		return fail(fmt.Sprintf("untag resources %v: %s", resourceIDs, err))
	}

	instances, err := ctx.Compute.DescribeInstances(ctx.Record.NewInstanceId)
	if err != nil {
		return fail(fmt.Sprintf("describe new instance %s: %s", ctx.Record.NewInstanceId, err))
	}
	if len(instances) != 1 {
		return fail(fmt.Sprintf("expected exactly one new instance, found %d", len(instances)))
	}
	finalJSON, err := json.Marshal(instances[0])
	if err != nil {
		return fail(fmt.Sprintf("marshal final instance state: %s", err))
	}

	return ok("untagged all resources", map[string]any{
		"FinalInstanceState": json.RawMessage(finalJSON),
		"EndTime":            time.Now(),
	})
}
