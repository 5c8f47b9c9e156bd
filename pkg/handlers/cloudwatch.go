package handlers

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/google/uuid"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// alarmRewrite records one alarm's audit entry: a unique id for this
// particular InstanceId-dimension rewrite, stored in the Conversion Record
// under CloudWatchAlarmAudit; the id is not sent to CloudWatch with the
// PutMetricAlarm call.
type alarmRewrite struct {
	AuditID string `json:"audit_id"`
	FromID  string `json:"from_instance_id"`
	ToID    string `json:"to_instance_id"`
}

// UpdateCloudWatchAlarms rewrites the InstanceId dimension of every matching
// alarm from the source instance to the new one.
func UpdateCloudWatchAlarms(ctx *Context) types.HandlerResult {
	alarms, err := ctx.MetricAlarm.DescribeAlarmsForInstance(ctx.Config.InstanceID)
	if err != nil {
		return fail(fmt.Sprintf("describe alarms for %s: %s", ctx.Config.InstanceID, err))
	}

	audit := map[string]alarmRewrite{}
	var updated int
	for _, alarm := range alarms {
		if !ctx.Config.AllCWAlarms() && !hasMatchingPrefix(aws.StringValue(alarm.AlarmName), ctx.Config.UpdateCWAlarms) {
			continue
		}
		dims := make([]*cloudwatch.Dimension, 0, len(alarm.Dimensions))
		for _, d := range alarm.Dimensions {
			if aws.StringValue(d.Name) == "InstanceId" {
				dims = append(dims, &cloudwatch.Dimension{Name: d.Name, Value: aws.String(ctx.Record.NewInstanceId)})
			} else {
				dims = append(dims, d)
			}
		}
		input := &cloudwatch.PutMetricAlarmInput{
			AlarmName:          alarm.AlarmName,
			ActionsEnabled:     alarm.ActionsEnabled,
			AlarmActions:       alarm.AlarmActions,
			OKActions:          alarm.OKActions,
			InsufficientDataActions: alarm.InsufficientDataActions,
			ComparisonOperator: alarm.ComparisonOperator,
			Dimensions:         dims,
			EvaluationPeriods:  alarm.EvaluationPeriods,
			MetricName:         alarm.MetricName,
			Namespace:          alarm.Namespace,
			Period:             alarm.Period,
			Statistic:          alarm.Statistic,
			Threshold:          alarm.Threshold,
			Unit:               alarm.Unit,
			TreatMissingData:   alarm.TreatMissingData,
		}
		if err := ctx.MetricAlarm.PutMetricAlarm(input); err != nil {
			return fail(fmt.Sprintf("put metric alarm %s: %s", aws.StringValue(alarm.AlarmName), err))
		}
		audit[aws.StringValue(alarm.AlarmName)] = alarmRewrite{
			AuditID: uuid.NewString(),
			FromID:  ctx.Config.InstanceID,
			ToID:    ctx.Record.NewInstanceId,
		}
		updated++
	}

	return ok(fmt.Sprintf("remapped %d cloudwatch alarms to %s", updated, ctx.Record.NewInstanceId), map[string]any{
		"CloudWatchAlarmAudit": audit,
	})
}

func hasMatchingPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
