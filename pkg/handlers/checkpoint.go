package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// InstanceStateCheckpoint snapshots the instance descriptor immediately
// before termination and resolves any elastic GPU associations.
func InstanceStateCheckpoint(ctx *Context) types.HandlerResult {
	instance, err := describeOne(ctx, ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("describe instance: %s", err))
	}
	checkpointJSON, err := json.Marshal(instance)
	if err != nil {
		return fail(fmt.Sprintf("marshal checkpoint: %s", err))
	}

	delta := map[string]any{"InstanceStateCheckpoint": json.RawMessage(checkpointJSON)}

	if !ctx.Config.IgnoreUserData {
		userData, err := ctx.Compute.DescribeUserData(ctx.Config.InstanceID)
		if err != nil {
			return fail(fmt.Sprintf("describe user data: %s", err))
		}
		delta["UserData"] = userData
	}

	if len(instance.ElasticGpuAssociations) > 0 && ctx.Accelerator != nil {
		var ids []string
		for _, assoc := range instance.ElasticGpuAssociations {
			ids = append(ids, aws.StringValue(assoc.ElasticGpuId))
		}
		gpus, err := ctx.Accelerator.DescribeElasticInferenceAccelerators(ids...)
		if err != nil {
			return fail(fmt.Sprintf("describe elastic gpus %v: %s", ids, err))
		}
		gpusJSON, err := json.Marshal(gpus)
		if err != nil {
			return fail(fmt.Sprintf("marshal elastic gpus: %s", err))
		}
		delta["ElasticGPUs"] = json.RawMessage(gpusJSON)
	}

	return ok("checkpointed instance state before termination", delta)
}

// checkpointedInstance unmarshals the stored pre-termination descriptor.
func checkpointedInstance(ctx *Context) (*ec2.Instance, error) {
	var instance ec2.Instance
	if err := json.Unmarshal(ctx.Record.InstanceStateCheckpoint, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &instance, nil
}
