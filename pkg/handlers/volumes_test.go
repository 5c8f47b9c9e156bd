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

func TestDetachVolumesSkipsRootAndDeleteOnTerminationVolumes(t *testing.T) {
	compute := newFakeCompute()
	compute.volumes["vol-extra"] = &ec2.Volume{
		VolumeId: aws.String("vol-extra"),
		State:    aws.String(ec2.VolumeStateInUse),
		Attachments: []*ec2.VolumeAttachment{
			{InstanceId: aws.String("i-source"), State: aws.String(ec2.VolumeAttachmentStateAttached)},
		},
	}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.InitialInstanceState = []byte(`{
		"RootDeviceName": "/dev/xvda",
		"BlockDeviceMappings": [
			{"DeviceName": "/dev/xvda", "Ebs": {"VolumeId": "vol-root", "DeleteOnTermination": true}},
			{"DeviceName": "/dev/xvdf", "Ebs": {"VolumeId": "vol-extra", "DeleteOnTermination": false}}
		]
	}`)

	result := DetachVolumes(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Equal(t, []string{"vol-extra"}, result.Delta["DetachedVolumes"])
}

func TestWaitVolumeDetachNoopWhenNoneDetached(t *testing.T) {
	compute := newFakeCompute()
	cfg := config.New()
	result := WaitVolumeDetach(newTestContext(cfg, types.NewConversionRecord("i-source"), compute))
	require.True(t, result.OK)
}

func TestWaitVolumeDetachSucceedsWhenAvailable(t *testing.T) {
	compute := newFakeCompute()
	compute.volumes["vol-extra"] = &ec2.Volume{VolumeId: aws.String("vol-extra"), State: aws.String(ec2.VolumeStateAvailable)}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.DetachedVolumes = []string{"vol-extra"}

	result := WaitVolumeDetach(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
}
