package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// cpuOptionsFamilyExcluded names the instance families whose CPU options can
// never be carried forward (legacy families without configurable core
// counts).
func cpuOptionsFamilyExcluded(instanceType string) bool {
	family := strings.SplitN(instanceType, ".", 2)[0]
	switch family {
	case "t2", "m1", "m2", "m3":
		return true
	default:
		return false
	}
}

// renameReservedTags prepends "_" to any tag key starting with the
// cloud-reserved "aws:" prefix, which cannot be set via CreateTags/RunInstances.
func renameReservedTags(tags []*ec2.Tag) []*ec2.Tag {
	renamed := make([]*ec2.Tag, 0, len(tags))
	for _, t := range tags {
		key := aws.StringValue(t.Key)
		if strings.HasPrefix(key, "aws:") {
			key = "_" + key
		}
		renamed = append(renamed, &ec2.Tag{Key: aws.String(key), Value: t.Value})
	}
	return renamed
}

// eniAttachedToSingleInstance reports whether every eniID is attached to the
// same instance, returning that instance id if so — the "possible prior
// partial execution" detection spec.md §4.4 requires before launching again.
// No recorded ENIs, or ENIs that are all unattached, are consistent and name
// no instance; a mix of attached and unattached ENIs, or ENIs spread over
// several instances, is inconsistent.
func eniAttachedToSingleInstance(ctx *Context) (instanceID string, consistent bool, err error) {
	if len(ctx.Record.EniIds) == 0 {
		return "", true, nil
	}
	enis, err := ctx.Compute.DescribeNetworkInterfaces(ctx.Record.EniIds...)
	if err != nil {
		return "", false, err
	}
	seen := map[string]bool{}
	unattached := 0
	for _, eni := range enis {
		if eni.Attachment == nil || eni.Attachment.InstanceId == nil {
			unattached++
			continue
		}
		seen[aws.StringValue(eni.Attachment.InstanceId)] = true
	}
	if len(seen) == 0 {
		return "", true, nil
	}
	if len(seen) > 1 || unattached > 0 {
		return "", false, nil
	}
	for id := range seen {
		instanceID = id
	}
	return instanceID, true, nil
}

// CreateNewInstance assembles the launch specification from the checkpointed
// descriptor and launches the replacement instance, per spec.md §4.4
// "Create-new-instance".
func CreateNewInstance(ctx *Context) types.HandlerResult {
	adoptedID, consistent, err := eniAttachedToSingleInstance(ctx)
	if err != nil {
		return fail(fmt.Sprintf("check network interface attachments: %s", err))
	}
	if !consistent {
		return fail("network interfaces are attached across multiple instances; manual cleanup required before retrying")
	}
	if adoptedID != "" {
		instances, err := ctx.Compute.DescribeInstances(adoptedID)
		if err != nil {
			return fail(fmt.Sprintf("describe adopted instance %s: %s", adoptedID, err))
		}
		if len(instances) == 1 {
			detailsJSON, _ := json.Marshal(instances[0])
			return ok(fmt.Sprintf("adopting already-launched instance %s from a prior partial run", adoptedID), map[string]any{
				"NewInstanceId":      adoptedID,
				"NewInstanceDetails": json.RawMessage(detailsJSON),
			})
		}
	}

	checkpoint, err := checkpointedInstance(ctx)
	if err != nil {
		return fail(err.Error())
	}

	instanceType := aws.StringValue(checkpoint.InstanceType)
	if ctx.Config.TargetInstanceType != "" {
		instanceType = ctx.Config.TargetInstanceType
	}
	sameType := instanceType == aws.StringValue(checkpoint.InstanceType)

	spec := &ec2.RunInstancesInput{
		ImageId:                           aws.String(ctx.Record.ImageId),
		InstanceType:                      aws.String(instanceType),
		KeyName:                           checkpoint.KeyName,
		EbsOptimized:                      checkpoint.EbsOptimized,
		Monitoring:                        &ec2.RunInstancesMonitoringEnabled{Enabled: aws.Bool(checkpoint.Monitoring != nil && aws.StringValue(checkpoint.Monitoring.State) == ec2.MonitoringStateEnabled)},
		InstanceInitiatedShutdownBehavior: checkpoint.InstanceLifecycle,
	}
	if checkpoint.Placement != nil {
		spec.Placement = &ec2.Placement{
			AvailabilityZone: checkpoint.Placement.AvailabilityZone,
			Tenancy:          checkpoint.Placement.Tenancy,
		}
	}

	if checkpoint.CapacityReservationSpecification != nil {
		spec.CapacityReservationSpecification = &ec2.CapacityReservationSpecification{
			CapacityReservationPreference: checkpoint.CapacityReservationSpecification.CapacityReservationPreference,
		}
	}
	if !ctx.Config.IgnoreHibernationOptions && checkpoint.HibernationOptions != nil {
		spec.HibernationOptions = &ec2.HibernationOptionsRequest{Configured: checkpoint.HibernationOptions.Configured}
	}
	if checkpoint.IamInstanceProfile != nil {
		spec.IamInstanceProfile = &ec2.IamInstanceProfileSpecification{Arn: checkpoint.IamInstanceProfile.Arn}
	}
	if !ctx.Config.IgnoreUserData && ctx.Record.UserData != "" {
		spec.UserData = aws.String(ctx.Record.UserData)
	}
	if checkpoint.CreditSpecification != nil {
		spec.CreditSpecification = &ec2.CreditSpecificationRequest{CpuCredits: checkpoint.CreditSpecification.CpuCredits}
	}

	if len(ctx.Record.VolumesInAMI) > 0 {
		var mapping []*ec2.BlockDeviceMapping
		if err := json.Unmarshal(ctx.Record.VolumesInAMI, &mapping); err != nil {
			return fail(fmt.Sprintf("unmarshal AMI volume mapping: %s", err))
		}
		if ctx.Config.VolumeKMSKeyID != "" {
			for _, bdm := range mapping {
				if bdm.Ebs != nil && !aws.BoolValue(bdm.Ebs.Encrypted) {
					bdm.Ebs.Encrypted = aws.Bool(true)
					bdm.Ebs.KmsKeyId = aws.String(ctx.Config.VolumeKMSKeyID)
				}
			}
		}
		spec.BlockDeviceMappings = mapping
	}

	for i, iface := range checkpoint.NetworkInterfaces {
		spec.NetworkInterfaces = append(spec.NetworkInterfaces, &ec2.InstanceNetworkInterfaceSpecification{
			DeviceIndex:        aws.Int64(int64(i)),
			NetworkInterfaceId: iface.NetworkInterfaceId,
		})
	}

	if checkpoint.ElasticGpuAssociations != nil {
		var gpuType string
		if len(ctx.Record.ElasticGPUs) > 0 {
			var gpus []map[string]interface{}
			if err := json.Unmarshal(ctx.Record.ElasticGPUs, &gpus); err == nil && len(gpus) > 0 {
				if t, ok := gpus[0]["AcceleratorType"].(string); ok {
					gpuType = t
				}
			}
		}
		if gpuType != "" {
			spec.ElasticGpuSpecification = []*ec2.ElasticGpuSpecification{{Type: aws.String(gpuType)}}
		}
	}
	if len(checkpoint.ElasticInferenceAcceleratorAssociations) > 0 {
		for _, assoc := range checkpoint.ElasticInferenceAcceleratorAssociations {
			spec.ElasticInferenceAccelerators = append(spec.ElasticInferenceAccelerators, &ec2.ElasticInferenceAccelerator{
				Type: assoc.ElasticInferenceAcceleratorArn,
			})
		}
	}

	preserveCPUOptions := sameType && aws.StringValue(checkpoint.Architecture) == ec2.ArchitectureValuesX8664 && !cpuOptionsFamilyExcluded(instanceType)
	switch {
	case ctx.Config.CPUOptions == "ignore":
		// omit entirely
	case ctx.Config.CPUOptions != "":
		var override ec2.CpuOptionsRequest
		if err := json.Unmarshal([]byte(ctx.Config.CPUOptions), &override); err != nil {
			return fail(fmt.Sprintf("parse --cpu-options override: %s", err))
		}
		spec.CpuOptions = &override
	case preserveCPUOptions && len(ctx.Record.CPUOptions) > 0:
		var cpuOpts ec2.CpuOptionsRequest
		if err := json.Unmarshal(ctx.Record.CPUOptions, &cpuOpts); err == nil {
			spec.CpuOptions = &cpuOpts
		}
	}

	if len(checkpoint.Tags) > 0 {
		spec.TagSpecifications = []*ec2.TagSpecification{{
			ResourceType: aws.String(ec2.ResourceTypeInstance),
			Tags:         renameReservedTags(checkpoint.Tags),
		}}
	}

	if ctx.Config.TargetBillingModel == config.BillingModelSpot {
		marketOptions := &ec2.InstanceMarketOptionsRequest{
			MarketType: aws.String(ec2.MarketTypeSpot),
			SpotOptions: &ec2.SpotMarketOptions{
				SpotInstanceType:             aws.String(ec2.SpotInstanceTypePersistent),
				InstanceInterruptionBehavior: aws.String(ec2.InstanceInterruptionBehaviorStop),
			},
		}
		if sameType && len(ctx.Record.SpotRequest) > 0 {
			var spotRequest ec2.SpotInstanceRequest
			if err := json.Unmarshal(ctx.Record.SpotRequest, &spotRequest); err == nil && spotRequest.SpotPrice != nil {
				marketOptions.SpotOptions.MaxPrice = spotRequest.SpotPrice
			}
		}
		if ctx.Config.MaxSpotPrice > 0 {
			marketOptions.SpotOptions.MaxPrice = aws.String(fmt.Sprintf("%g", ctx.Config.MaxSpotPrice))
		}
		spec.InstanceMarketOptions = marketOptions
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fail(fmt.Sprintf("marshal launch specification: %s", err))
	}

	instance, err := ctx.Compute.RunInstance(spec)
	if err != nil {
		return fail(fmt.Sprintf("run instance: %s", err))
	}

	detailsJSON, err := json.Marshal(instance)
	if err != nil {
		return fail(fmt.Sprintf("marshal new instance details: %s", err))
	}

	return ok(fmt.Sprintf("launched new instance %s", aws.StringValue(instance.InstanceId)), map[string]any{
		"NewInstanceLaunchSpecification": json.RawMessage(specJSON),
		"NewInstanceId":                  aws.StringValue(instance.InstanceId),
		"NewInstanceDetails":             json.RawMessage(detailsJSON),
	})
}

// WaitNewInstance polls up to 600 attempts every 0.5s for "running". If the
// instance is terminated instead, it asks the Engine to rewind to the
// predecessor of create-new-instance.
func WaitNewInstance(ctx *Context) types.HandlerResult {
	var terminated bool
	err := pollUntil("wait-new-instance", 600, 500*time.Millisecond, nil, func(attempt int) (bool, error) {
		instances, err := ctx.Compute.DescribeInstances(ctx.Record.NewInstanceId)
		if err != nil {
			return false, err
		}
		if len(instances) != 1 {
			return false, nil
		}
		switch aws.StringValue(instances[0].State.Name) {
		case ec2.InstanceStateNameRunning:
			return true, nil
		case ec2.InstanceStateNameTerminated:
			terminated = true
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return fail(err.Error())
	}
	if terminated {
		return rewind(fmt.Sprintf("new instance %s terminated immediately after launch", ctx.Record.NewInstanceId), "wait-resource-release")
	}
	return ok(fmt.Sprintf("new instance %s is running", ctx.Record.NewInstanceId), nil)
}
