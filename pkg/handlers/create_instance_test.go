package handlers

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func TestCreateNewInstanceAssemblesSpotLaunchSpec(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.TargetBillingModel = config.BillingModelSpot

	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.ImageId = "ami-0123456789abcdef0"
	rec.InstanceStateCheckpoint = []byte(`{
		"InstanceType": "t3.micro",
		"Architecture": "x86_64",
		"Placement": {"AvailabilityZone": "us-east-1a", "Tenancy": "default"}
	}`)

	result := CreateNewInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Contains(t, result.Delta, "NewInstanceLaunchSpecification")
	assert.Equal(t, "i-new0000000000000", result.Delta["NewInstanceId"])
}

func TestCreateNewInstanceCarriesForwardUserData(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.ImageId = "ami-0123456789abcdef0"
	rec.UserData = "IyEvYmluL2Jhc2gKZWNobyBoaQ=="
	rec.InstanceStateCheckpoint = []byte(`{
		"InstanceType": "t3.micro",
		"Architecture": "x86_64",
		"Placement": {"AvailabilityZone": "us-east-1a", "Tenancy": "default"}
	}`)

	result := CreateNewInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Contains(t, string(result.Delta["NewInstanceLaunchSpecification"].(json.RawMessage)), rec.UserData)
}

func TestCreateNewInstanceOmitsUserDataWhenIgnored(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.IgnoreUserData = true
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.ImageId = "ami-0123456789abcdef0"
	rec.UserData = "IyEvYmluL2Jhc2gKZWNobyBoaQ=="
	rec.InstanceStateCheckpoint = []byte(`{
		"InstanceType": "t3.micro",
		"Architecture": "x86_64",
		"Placement": {"AvailabilityZone": "us-east-1a", "Tenancy": "default"}
	}`)

	result := CreateNewInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.NotContains(t, string(result.Delta["NewInstanceLaunchSpecification"].(json.RawMessage)), rec.UserData)
}

func TestCreateNewInstanceAdoptsPriorPartialLaunch(t *testing.T) {
	compute := newFakeCompute()
	compute.enis["eni-1"] = &ec2.NetworkInterface{
		NetworkInterfaceId: aws.String("eni-1"),
		Attachment:         &ec2.NetworkInterfaceAttachment{InstanceId: aws.String("i-adopted")},
	}
	compute.instances["i-adopted"] = &ec2.Instance{InstanceId: aws.String("i-adopted")}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.EniIds = []string{"eni-1"}

	result := CreateNewInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Equal(t, "i-adopted", result.Delta["NewInstanceId"])
	assert.Contains(t, result.Message, "adopting")
}

func TestWaitNewInstanceRewindsOnImmediateTermination(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-new"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameTerminated)}}

	cfg := config.New()
	rec := types.NewConversionRecord("i-source")
	rec.NewInstanceId = "i-new"

	result := WaitNewInstance(newTestContext(cfg, rec, compute))
	require.False(t, result.OK)
	assert.Equal(t, "wait-resource-release", result.Rewind)
}

func TestWaitNewInstanceSucceedsWhenRunning(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-new"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameRunning)}}

	cfg := config.New()
	rec := types.NewConversionRecord("i-source")
	rec.NewInstanceId = "i-new"

	result := WaitNewInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Empty(t, result.Rewind)
}
