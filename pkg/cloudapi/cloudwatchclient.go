package cloudapi

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
)

// CloudWatchClient implements MetricAlarm.
type CloudWatchClient struct {
	svc *cloudwatch.CloudWatch
}

func NewCloudWatchClient(sess *session.Session) *CloudWatchClient {
	return &CloudWatchClient{svc: cloudwatch.New(sess)}
}

// DescribeAlarmsForInstance pages through every alarm in the account and
// keeps those with an InstanceId dimension equal to instanceID, mirroring the
// original tool's own full-account alarm scan.
func (c *CloudWatchClient) DescribeAlarmsForInstance(instanceID string) ([]*cloudwatch.MetricAlarm, error) {
	var matched []*cloudwatch.MetricAlarm
	var token *string
	for {
		out, err := c.svc.DescribeAlarms(&cloudwatch.DescribeAlarmsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe alarms: %w", err)
		}
		for _, alarm := range out.MetricAlarms {
			for _, dim := range alarm.Dimensions {
				if aws.StringValue(dim.Name) == "InstanceId" && aws.StringValue(dim.Value) == instanceID {
					matched = append(matched, alarm)
					break
				}
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return matched, nil
}

func (c *CloudWatchClient) PutMetricAlarm(alarm *cloudwatch.PutMetricAlarmInput) error {
	_, err := c.svc.PutMetricAlarm(alarm)
	if err != nil {
		return fmt.Errorf("put metric alarm %s: %w", aws.StringValue(alarm.AlarmName), err)
	}
	return nil
}
