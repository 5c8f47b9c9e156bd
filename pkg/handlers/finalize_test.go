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

func TestDeregisterImageSkipsWhenRetentionRequested(t *testing.T) {
	compute := newFakeCompute()
	compute.images["ami-1"] = &ec2.Image{ImageId: aws.String("ami-1")}

	cfg := config.New()
	rec := types.NewConversionRecord("i-source")
	rec.ImageId = "ami-1"

	result := DeregisterImage(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	_, stillThere := compute.images["ami-1"]
	assert.True(t, stillThere)
}

func TestDeregisterImageDeletesImageAndSnapshots(t *testing.T) {
	compute := newFakeCompute()
	compute.images["ami-1"] = &ec2.Image{
		ImageId: aws.String("ami-1"),
		BlockDeviceMappings: []*ec2.BlockDeviceMapping{
			{Ebs: &ec2.EbsBlockDevice{SnapshotId: aws.String("snap-1")}},
		},
	}

	cfg := config.New()
	cfg.DeleteAMI = true
	rec := types.NewConversionRecord("i-source")
	rec.ImageId = "ami-1"

	result := DeregisterImage(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	_, stillThere := compute.images["ami-1"]
	assert.False(t, stillThere)
}
