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

func TestInstanceStateCheckpointCapturesUserData(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{InstanceId: aws.String("i-source")}
	compute.userData["i-source"] = "IyEvYmluL2Jhc2gKZWNobyBoaQ=="

	cfg := config.New()
	cfg.InstanceID = "i-source"
	rec := types.NewConversionRecord(cfg.InstanceID)

	result := InstanceStateCheckpoint(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.Equal(t, "IyEvYmluL2Jhc2gKZWNobyBoaQ==", result.Delta["UserData"])
}

func TestInstanceStateCheckpointSkipsUserDataWhenIgnored(t *testing.T) {
	compute := newFakeCompute()
	compute.instances["i-source"] = &ec2.Instance{InstanceId: aws.String("i-source")}
	compute.userData["i-source"] = "IyEvYmluL2Jhc2gKZWNobyBoaQ=="

	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.IgnoreUserData = true
	rec := types.NewConversionRecord(cfg.InstanceID)

	result := InstanceStateCheckpoint(newTestContext(cfg, rec, compute))
	require.True(t, result.OK)
	assert.NotContains(t, result.Delta, "UserData")
}
