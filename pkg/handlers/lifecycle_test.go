package handlers

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func TestStopInstanceSkipsIfAlreadyStopped(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameStopped)}}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	result := StopInstance(newTestContext(cfg, types.NewConversionRecord(cfg.InstanceID), compute))

	require.True(t, result.OK)
	assert.Empty(t, compute.stopped)
}

func TestStopInstanceIssuesStop(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameRunning)}}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	result := StopInstance(newTestContext(cfg, types.NewConversionRecord(cfg.InstanceID), compute))

	require.True(t, result.OK)
	assert.Equal(t, []string{"i-source"}, compute.stopped)
}

func TestStopInstanceRecordsFailedStopWhenDisallowed(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameRunning)}}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.DoNotRequireStoppedInstance = true
	result := StopInstance(newTestContext(cfg, types.NewConversionRecord(cfg.InstanceID), compute))

	require.True(t, result.OK)
	assert.Empty(t, compute.stopped)
	assert.Equal(t, true, result.Delta["FailedStop"])
}

func TestWaitStopInstanceSkipsAfterFailedStop(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.FailedStop = true

	result := WaitStopInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
}

func TestTerminateInstanceCancelsPersistentSpotRequestFirst(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameStopped)}}
	compute.spotReqs["sir-abc"] = &ec2.SpotInstanceRequest{
		SpotInstanceRequestId: aws.String("sir-abc"),
		State:                 aws.String("active"),
	}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.SpotRequest = []byte(`{"SpotInstanceRequestId":"sir-abc","State":"active"}`)

	result := TerminateInstance(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Equal(t, []string{"sir-abc"}, compute.cancelledSpotReqs)
	assert.Equal(t, []string{"i-source"}, compute.terminated)
}

func TestWaitResourceReleaseForceDeletesRootVolumeWhenNotDeleteOnTermination(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{State: &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameTerminated)}}
	compute.volumes["vol-root"] = &ec2.Volume{VolumeId: aws.String("vol-root"), State: aws.String(ec2.VolumeStateAvailable)}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.InitialInstanceState = []byte(`{
		"RootDeviceName": "/dev/xvda",
		"BlockDeviceMappings": [
			{"DeviceName": "/dev/xvda", "Ebs": {"VolumeId": "vol-root", "DeleteOnTermination": false}}
		]
	}`)

	result := WaitResourceRelease(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	_, stillExists := compute.volumes["vol-root"]
	assert.False(t, stillExists)
}

func TestRebootIfNeededSkipsWithoutPostBootAttachment(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	cfg.RebootIfNeeded = true
	rec := types.NewConversionRecord("i-source")
	rec.NewInstanceId = "i-new"

	result := RebootIfNeeded(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Equal(t, "no reboot required", result.Message)
}
