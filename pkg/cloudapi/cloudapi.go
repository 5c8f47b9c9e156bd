// Package cloudapi defines the injected capability interfaces every step
// handler talks to, and the real AWS SDK v1 implementations behind them.
// Handlers depend on the interfaces, never on the aws-sdk-go clients
// directly, so pkg/handlers can be tested against fakes without live
// credentials.
package cloudapi

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/kms"
)

// Compute is the EC2 surface every instance/volume/network/image/spot-request
// step handler uses.
type Compute interface {
	DescribeInstances(instanceIDs ...string) ([]*ec2.Instance, error)
	DescribeDisableAPITermination(instanceID string) (bool, error)
	DescribeUserData(instanceID string) (string, error)
	StopInstance(instanceID string, force bool) error
	StartInstance(instanceID string) error
	RebootInstance(instanceID string) error
	TerminateInstance(instanceID string) error
	RunInstance(spec *ec2.RunInstancesInput) (*ec2.Instance, error)

	CreateImage(input *ec2.CreateImageInput) (string, error)
	DescribeImages(imageIDs ...string) ([]*ec2.Image, error)
	DeregisterImage(imageID string) error
	DeleteSnapshot(snapshotID string) error

	DescribeVolumes(volumeIDs ...string) ([]*ec2.Volume, error)
	DetachVolume(volumeID, instanceID, device string, force bool) error
	AttachVolume(volumeID, instanceID, device string) error
	DeleteVolume(volumeID string) error

	DescribeNetworkInterfaces(eniIDs ...string) ([]*ec2.NetworkInterface, error)
	ModifyNetworkInterfaceAttribute(input *ec2.ModifyNetworkInterfaceAttributeInput) error
	AttachNetworkInterface(eniID, instanceID string, deviceIndex int64) (string, error)

	DescribeAddresses() ([]*ec2.Address, error)
	AssociateAddressToENI(allocationID, eniID string) error

	DescribeSpotInstanceRequests(spotRequestIDs ...string) ([]*ec2.SpotInstanceRequest, error)
	CancelSpotInstanceRequests(spotRequestIDs ...string) error

	CreateTags(resourceIDs []string, tags map[string]string) error
	DeleteTags(resourceIDs []string, keys []string) error
}

// Accelerator covers elastic-inference accelerator discovery, kept separate
// from Compute because it is a distinct EC2-adjacent service client
// (elastic-inference) in the real SDK.
type Accelerator interface {
	DescribeElasticInferenceAccelerators(acceleratorIDs ...string) ([]map[string]interface{}, error)
}

// KeyManagement is the minimal KMS key-lookup surface injected into every
// handler Context. No step handler calls it: --volume-kms-key-id is passed
// into the launch specification without being looked up.
type KeyManagement interface {
	DescribeKey(keyID string) (*kms.KeyMetadata, error)
}

// LoadBalancer covers target-group discovery, health checks and
// register/deregister used by the target-group steps.
type LoadBalancer interface {
	DescribeTargetGroupsForInstance(instanceID string) ([]*elbv2.TargetGroup, error)
	DescribeTargetHealth(targetGroupARN, instanceID string) (string, error)
	RegisterTarget(targetGroupARN, instanceID string, port int64) error
	DeregisterTarget(targetGroupARN, instanceID string, port int64) error
}

// MetricAlarm covers the CloudWatch alarms the update-cloudwatch-alarms step
// rewrites from the source instance id to the new one.
type MetricAlarm interface {
	DescribeAlarmsForInstance(instanceID string) ([]*cloudwatch.MetricAlarm, error)
	PutMetricAlarm(alarm *cloudwatch.PutMetricAlarmInput) error
}

// NewSession builds the shared AWS session every client in this package is
// constructed from: shared config + environment credentials, one region
// override. Adapted from eef808a24ff-aistore's ais/cloud/aws.go createSession.
func NewSession(region string) *session.Session {
	cfg := aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	return session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Config:            cfg,
	}))
}

// Classify distinguishes an AWS request failure from a generic error, the way
// awsErrorToAISError does in the aistore reference backend: request failures
// carry an AWS error code and an HTTP status the caller can branch on.
func Classify(err error) (code string, statusCode int, isAWSError bool) {
	if err == nil {
		return "", 0, false
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return reqErr.Code(), reqErr.StatusCode(), true
	}
	return "", 0, false
}

// IsNotFound reports whether err is the AWS "resource does not exist"
// family of error codes for EC2/EBS/AMI lookups.
func IsNotFound(err error) bool {
	code, _, ok := Classify(err)
	if !ok {
		return false
	}
	switch code {
	case "InvalidInstanceID.NotFound",
		"InvalidVolume.NotFound",
		"InvalidAMIID.NotFound",
		"InvalidNetworkInterfaceID.NotFound",
		"InvalidSpotInstanceRequestID.NotFound":
		return true
	default:
		return false
	}
}
