package handlers

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func TestUpdateCloudWatchAlarmsRewritesInstanceIdDimension(t *testing.T) {
	compute := newFakeCompute()
	ma := &fakeMetricAlarm{
		alarms: []*cloudwatch.MetricAlarm{
			{
				AlarmName: aws.String("prod-cpu-high"),
				Dimensions: []*cloudwatch.Dimension{
					{Name: aws.String("InstanceId"), Value: aws.String("i-source")},
				},
			},
		},
	}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.UpdateCWAlarms = []string{"prod-"}
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.NewInstanceId = "i-new"

	result := UpdateCloudWatchAlarms(newTestContextWithMetricAlarm(cfg, rec, compute, ma))
	require.True(t, result.OK)
	require.Len(t, ma.put, 1)
	assert.Equal(t, "i-new", aws.StringValue(ma.put[0].Dimensions[0].Value))
	assert.Contains(t, result.Delta, "CloudWatchAlarmAudit")
}

func TestUpdateCloudWatchAlarmsSkipsNonMatchingPrefix(t *testing.T) {
	compute := newFakeCompute()
	ma := &fakeMetricAlarm{
		alarms: []*cloudwatch.MetricAlarm{{AlarmName: aws.String("dev-cpu-high")}},
	}

	cfg := config.New()
	cfg.InstanceID = "i-source"
	cfg.UpdateCWAlarms = []string{"prod-"}
	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.NewInstanceId = "i-new"

	result := UpdateCloudWatchAlarms(newTestContextWithMetricAlarm(cfg, rec, compute, ma))
	require.True(t, result.OK)
	assert.Empty(t, ma.put)
}
