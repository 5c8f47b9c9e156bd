package cloudapi

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/elbv2"
)

// ELBClient implements LoadBalancer against the Elastic Load Balancing v2 API.
type ELBClient struct {
	svc *elbv2.ELBV2
}

func NewELBClient(sess *session.Session) *ELBClient {
	return &ELBClient{svc: elbv2.New(sess)}
}

// DescribeTargetGroupsForInstance pages through every target group in the
// account and keeps those that currently register instanceID, since the ELB
// API has no "target groups for instance X" query of its own.
func (c *ELBClient) DescribeTargetGroupsForInstance(instanceID string) ([]*elbv2.TargetGroup, error) {
	var matched []*elbv2.TargetGroup
	var marker *string
	for {
		out, err := c.svc.DescribeTargetGroups(&elbv2.DescribeTargetGroupsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe target groups: %w", err)
		}
		for _, tg := range out.TargetGroups {
			health, err := c.svc.DescribeTargetHealth(&elbv2.DescribeTargetHealthInput{
				TargetGroupArn: tg.TargetGroupArn,
			})
			if err != nil {
				return nil, fmt.Errorf("describe target health for %s: %w", aws.StringValue(tg.TargetGroupArn), err)
			}
			for _, thd := range health.TargetHealthDescriptions {
				if aws.StringValue(thd.Target.Id) == instanceID {
					matched = append(matched, tg)
					break
				}
			}
		}
		if out.NextMarker == nil {
			break
		}
		marker = out.NextMarker
	}
	return matched, nil
}

func (c *ELBClient) DescribeTargetHealth(targetGroupARN, instanceID string) (string, error) {
	out, err := c.svc.DescribeTargetHealth(&elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
		Targets:        []*elbv2.TargetDescription{{Id: aws.String(instanceID)}},
	})
	if err != nil {
		return "", fmt.Errorf("describe target health %s/%s: %w", targetGroupARN, instanceID, err)
	}
	if len(out.TargetHealthDescriptions) == 0 {
		return "unused", nil
	}
	return aws.StringValue(out.TargetHealthDescriptions[0].TargetHealth.State), nil
}

func (c *ELBClient) RegisterTarget(targetGroupARN, instanceID string, port int64) error {
	target := &elbv2.TargetDescription{Id: aws.String(instanceID)}
	if port != 0 {
		target.Port = aws.Int64(port)
	}
	_, err := c.svc.RegisterTargets(&elbv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupARN),
		Targets:        []*elbv2.TargetDescription{target},
	})
	if err != nil {
		return fmt.Errorf("register target %s in %s: %w", instanceID, targetGroupARN, err)
	}
	return nil
}

func (c *ELBClient) DeregisterTarget(targetGroupARN, instanceID string, port int64) error {
	target := &elbv2.TargetDescription{Id: aws.String(instanceID)}
	if port != 0 {
		target.Port = aws.Int64(port)
	}
	_, err := c.svc.DeregisterTargets(&elbv2.DeregisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupARN),
		Targets:        []*elbv2.TargetDescription{target},
	})
	if err != nil {
		return fmt.Errorf("deregister target %s from %s: %w", instanceID, targetGroupARN, err)
	}
	return nil
}
