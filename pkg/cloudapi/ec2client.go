package cloudapi

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
)

// EC2Client implements Compute against a real AWS account using aws-sdk-go's
// classic, session-based EC2 client. Per-call input assembly follows the
// aws.String/aws.Int64 wrapping convention used throughout
// eef808a24ff-aistore's ais/cloud/aws.go.
type EC2Client struct {
	svc *ec2.EC2
}

// NewEC2Client builds an EC2Client from a shared session.
func NewEC2Client(sess *session.Session) *EC2Client {
	return &EC2Client{svc: ec2.New(sess)}
}

func (c *EC2Client) DescribeInstances(instanceIDs ...string) ([]*ec2.Instance, error) {
	out, err := c.svc.DescribeInstances(&ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(instanceIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe instances %v: %w", instanceIDs, err)
	}
	var instances []*ec2.Instance
	for _, res := range out.Reservations {
		instances = append(instances, res.Instances...)
	}
	return instances, nil
}

func (c *EC2Client) DescribeDisableAPITermination(instanceID string) (bool, error) {
	out, err := c.svc.DescribeInstanceAttribute(&ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Attribute:  aws.String(ec2.InstanceAttributeNameDisableApiTermination),
	})
	if err != nil {
		return false, fmt.Errorf("describe disableApiTermination for %s: %w", instanceID, err)
	}
	if out.DisableApiTermination == nil || out.DisableApiTermination.Value == nil {
		return false, nil
	}
	return *out.DisableApiTermination.Value, nil
}

func (c *EC2Client) DescribeUserData(instanceID string) (string, error) {
	out, err := c.svc.DescribeInstanceAttribute(&ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Attribute:  aws.String(ec2.InstanceAttributeNameUserData),
	})
	if err != nil {
		return "", fmt.Errorf("describe userData for %s: %w", instanceID, err)
	}
	if out.UserData == nil {
		return "", nil
	}
	return aws.StringValue(out.UserData.Value), nil
}

func (c *EC2Client) StopInstance(instanceID string, force bool) error {
	_, err := c.svc.StopInstances(&ec2.StopInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
		Force:       aws.Bool(force),
	})
	if err != nil {
		return fmt.Errorf("stop instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *EC2Client) StartInstance(instanceID string) error {
	_, err := c.svc.StartInstances(&ec2.StartInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return fmt.Errorf("start instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *EC2Client) RebootInstance(instanceID string) error {
	_, err := c.svc.RebootInstances(&ec2.RebootInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return fmt.Errorf("reboot instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *EC2Client) TerminateInstance(instanceID string) error {
	_, err := c.svc.TerminateInstances(&ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *EC2Client) RunInstance(spec *ec2.RunInstancesInput) (*ec2.Instance, error) {
	spec.MinCount = aws.Int64(1)
	spec.MaxCount = aws.Int64(1)
	out, err := c.svc.RunInstances(spec)
	if err != nil {
		return nil, fmt.Errorf("run instance: %w", err)
	}
	if len(out.Instances) != 1 {
		return nil, fmt.Errorf("run instance: expected 1 instance, got %d", len(out.Instances))
	}
	return out.Instances[0], nil
}

func (c *EC2Client) CreateImage(input *ec2.CreateImageInput) (string, error) {
	out, err := c.svc.CreateImage(input)
	if err != nil {
		return "", fmt.Errorf("create image from %s: %w", aws.StringValue(input.InstanceId), err)
	}
	return aws.StringValue(out.ImageId), nil
}

func (c *EC2Client) DescribeImages(imageIDs ...string) ([]*ec2.Image, error) {
	out, err := c.svc.DescribeImages(&ec2.DescribeImagesInput{
		ImageIds: aws.StringSlice(imageIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe images %v: %w", imageIDs, err)
	}
	return out.Images, nil
}

func (c *EC2Client) DeregisterImage(imageID string) error {
	_, err := c.svc.DeregisterImage(&ec2.DeregisterImageInput{ImageId: aws.String(imageID)})
	if err != nil {
		return fmt.Errorf("deregister image %s: %w", imageID, err)
	}
	return nil
}

func (c *EC2Client) DeleteSnapshot(snapshotID string) error {
	_, err := c.svc.DeleteSnapshot(&ec2.DeleteSnapshotInput{SnapshotId: aws.String(snapshotID)})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}

func (c *EC2Client) DescribeVolumes(volumeIDs ...string) ([]*ec2.Volume, error) {
	out, err := c.svc.DescribeVolumes(&ec2.DescribeVolumesInput{
		VolumeIds: aws.StringSlice(volumeIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe volumes %v: %w", volumeIDs, err)
	}
	return out.Volumes, nil
}

func (c *EC2Client) DetachVolume(volumeID, instanceID, device string, force bool) error {
	_, err := c.svc.DetachVolume(&ec2.DetachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
		Force:      aws.Bool(force),
	})
	if err != nil {
		return fmt.Errorf("detach volume %s from %s: %w", volumeID, instanceID, err)
	}
	return nil
}

func (c *EC2Client) AttachVolume(volumeID, instanceID, device string) error {
	_, err := c.svc.AttachVolume(&ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
	})
	if err != nil {
		return fmt.Errorf("attach volume %s to %s: %w", volumeID, instanceID, err)
	}
	return nil
}

func (c *EC2Client) DeleteVolume(volumeID string) error {
	_, err := c.svc.DeleteVolume(&ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		return fmt.Errorf("delete volume %s: %w", volumeID, err)
	}
	return nil
}

func (c *EC2Client) DescribeNetworkInterfaces(eniIDs ...string) ([]*ec2.NetworkInterface, error) {
	out, err := c.svc.DescribeNetworkInterfaces(&ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: aws.StringSlice(eniIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe network interfaces %v: %w", eniIDs, err)
	}
	return out.NetworkInterfaces, nil
}

func (c *EC2Client) ModifyNetworkInterfaceAttribute(input *ec2.ModifyNetworkInterfaceAttributeInput) error {
	_, err := c.svc.ModifyNetworkInterfaceAttribute(input)
	if err != nil {
		return fmt.Errorf("modify network interface %s: %w", aws.StringValue(input.NetworkInterfaceId), err)
	}
	return nil
}

func (c *EC2Client) AttachNetworkInterface(eniID, instanceID string, deviceIndex int64) (string, error) {
	out, err := c.svc.AttachNetworkInterface(&ec2.AttachNetworkInterfaceInput{
		NetworkInterfaceId: aws.String(eniID),
		InstanceId:         aws.String(instanceID),
		DeviceIndex:        aws.Int64(deviceIndex),
	})
	if err != nil {
		return "", fmt.Errorf("attach network interface %s to %s: %w", eniID, instanceID, err)
	}
	return aws.StringValue(out.AttachmentId), nil
}

func (c *EC2Client) DescribeAddresses() ([]*ec2.Address, error) {
	out, err := c.svc.DescribeAddresses(&ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("describe addresses: %w", err)
	}
	return out.Addresses, nil
}

func (c *EC2Client) AssociateAddressToENI(allocationID, eniID string) error {
	_, err := c.svc.AssociateAddress(&ec2.AssociateAddressInput{
		AllocationId:       aws.String(allocationID),
		NetworkInterfaceId: aws.String(eniID),
	})
	if err != nil {
		return fmt.Errorf("associate address %s with network interface %s: %w", allocationID, eniID, err)
	}
	return nil
}

func (c *EC2Client) DescribeSpotInstanceRequests(spotRequestIDs ...string) ([]*ec2.SpotInstanceRequest, error) {
	out, err := c.svc.DescribeSpotInstanceRequests(&ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: aws.StringSlice(spotRequestIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("describe spot requests %v: %w", spotRequestIDs, err)
	}
	return out.SpotInstanceRequests, nil
}

func (c *EC2Client) CancelSpotInstanceRequests(spotRequestIDs ...string) error {
	_, err := c.svc.CancelSpotInstanceRequests(&ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: aws.StringSlice(spotRequestIDs),
	})
	if err != nil {
		return fmt.Errorf("cancel spot requests %v: %w", spotRequestIDs, err)
	}
	return nil
}

func (c *EC2Client) CreateTags(resourceIDs []string, tags map[string]string) error {
	var ec2Tags []*ec2.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, &ec2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := c.svc.CreateTags(&ec2.CreateTagsInput{
		Resources: aws.StringSlice(resourceIDs),
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("create tags on %v: %w", resourceIDs, err)
	}
	return nil
}

func (c *EC2Client) DeleteTags(resourceIDs []string, keys []string) error {
	var ec2Tags []*ec2.Tag
	for _, k := range keys {
		ec2Tags = append(ec2Tags, &ec2.Tag{Key: aws.String(k)})
	}
	_, err := c.svc.DeleteTags(&ec2.DeleteTagsInput{
		Resources: aws.StringSlice(resourceIDs),
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("delete tags on %v: %w", resourceIDs, err)
	}
	return nil
}
