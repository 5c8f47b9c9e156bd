package cloudapi

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/elasticinference"
)

// AcceleratorClient implements Accelerator against the Elastic Inference
// service, used only when the source instance carries
// ElasticInferenceAcceleratorAssociations that the new launch spec must
// reattach.
type AcceleratorClient struct {
	svc *elasticinference.ElasticInference
}

func NewAcceleratorClient(sess *session.Session) *AcceleratorClient {
	return &AcceleratorClient{svc: elasticinference.New(sess)}
}

func (c *AcceleratorClient) DescribeElasticInferenceAccelerators(acceleratorIDs ...string) ([]map[string]interface{}, error) {
	out, err := c.svc.DescribeAccelerators(&elasticinference.DescribeAcceleratorsInput{
		AcceleratorIds: aws.StringSlice(acceleratorIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe elastic inference accelerators %v: %w", acceleratorIDs, err)
	}
	var result []map[string]interface{}
	for _, a := range out.Accelerators {
		result = append(result, map[string]interface{}{
			"AcceleratorId":   aws.StringValue(a.AcceleratorId),
			"AcceleratorType": aws.StringValue(a.AcceleratorType),
		})
	}
	return result, nil
}
