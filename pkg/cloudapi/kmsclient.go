package cloudapi

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
)

// KMSClient implements KeyManagement.
type KMSClient struct {
	svc *kms.KMS
}

func NewKMSClient(sess *session.Session) *KMSClient {
	return &KMSClient{svc: kms.New(sess)}
}

func (c *KMSClient) DescribeKey(keyID string) (*kms.KeyMetadata, error) {
	out, err := c.svc.DescribeKey(&kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("describe key %s: %w", keyID, err)
	}
	return out.KeyMetadata, nil
}
