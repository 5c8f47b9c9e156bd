package handlers

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/kms"
)

// fakeCompute is an in-memory stand-in for cloudapi.Compute, grounded the way
// the teacher's pkg/dns and pkg/worker tests fake out external dependencies:
// a struct holding canned responses and recording the calls made against it.
type fakeCompute struct {
	instances map[string]*ec2.Instance
	volumes   map[string]*ec2.Volume
	images    map[string]*ec2.Image
	enis      map[string]*ec2.NetworkInterface
	addresses map[string][]*ec2.Address
	spotReqs  map[string]*ec2.SpotInstanceRequest
	userData  map[string]string

	disableAPITermination bool

	stopped            []string
	terminated         []string
	cancelledSpotReqs  []string
	createdTags        map[string]map[string]string
	deletedTags        map[string][]string
	createImageID      string
	nextCreateImageErr error
	associatedENIs     []string
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		instances:   map[string]*ec2.Instance{},
		volumes:     map[string]*ec2.Volume{},
		images:      map[string]*ec2.Image{},
		enis:        map[string]*ec2.NetworkInterface{},
		addresses:   map[string][]*ec2.Address{},
		spotReqs:    map[string]*ec2.SpotInstanceRequest{},
		userData:    map[string]string{},
		createdTags: map[string]map[string]string{},
		deletedTags: map[string][]string{},
	}
}

func (f *fakeCompute) DescribeInstances(ids ...string) ([]*ec2.Instance, error) {
	var out []*ec2.Instance
	for _, id := range ids {
		inst, ok := f.instances[id]
		if !ok {
			return nil, fmt.Errorf("no such instance %s", id)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeCompute) DescribeDisableAPITermination(string) (bool, error) {
	return f.disableAPITermination, nil
}

func (f *fakeCompute) DescribeUserData(instanceID string) (string, error) {
	return f.userData[instanceID], nil
}

func (f *fakeCompute) StopInstance(instanceID string, force bool) error {
	f.stopped = append(f.stopped, instanceID)
	if inst, ok := f.instances[instanceID]; ok {
		inst.State = &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameStopped)}
	}
	return nil
}

func (f *fakeCompute) StartInstance(string) error { return nil }
func (f *fakeCompute) RebootInstance(string) error { return nil }

func (f *fakeCompute) TerminateInstance(instanceID string) error {
	f.terminated = append(f.terminated, instanceID)
	if inst, ok := f.instances[instanceID]; ok {
		inst.State = &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameTerminated)}
	}
	return nil
}

func (f *fakeCompute) RunInstance(*ec2.RunInstancesInput) (*ec2.Instance, error) {
	return &ec2.Instance{InstanceId: aws.String("i-new0000000000000")}, nil
}

func (f *fakeCompute) CreateImage(input *ec2.CreateImageInput) (string, error) {
	if f.nextCreateImageErr != nil {
		err := f.nextCreateImageErr
		f.nextCreateImageErr = nil
		return "", err
	}
	id := f.createImageID
	if id == "" {
		id = "ami-0123456789abcdef0"
	}
	f.images[id] = &ec2.Image{ImageId: aws.String(id), Name: input.Name, State: aws.String(ec2.ImageStateAvailable)}
	return id, nil
}

func (f *fakeCompute) DescribeImages(ids ...string) ([]*ec2.Image, error) {
	if len(ids) == 0 {
		var all []*ec2.Image
		for _, img := range f.images {
			all = append(all, img)
		}
		return all, nil
	}
	var out []*ec2.Image
	for _, id := range ids {
		if img, ok := f.images[id]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

func (f *fakeCompute) DeregisterImage(id string) error {
	delete(f.images, id)
	return nil
}

func (f *fakeCompute) DeleteSnapshot(string) error { return nil }

func (f *fakeCompute) DescribeVolumes(ids ...string) ([]*ec2.Volume, error) {
	var out []*ec2.Volume
	for _, id := range ids {
		if vol, ok := f.volumes[id]; ok {
			out = append(out, vol)
		}
	}
	return out, nil
}

func (f *fakeCompute) DetachVolume(volumeID, instanceID, device string, force bool) error {
	if vol, ok := f.volumes[volumeID]; ok {
		vol.State = aws.String(ec2.VolumeStateAvailable)
		vol.Attachments = nil
	}
	return nil
}

func (f *fakeCompute) AttachVolume(volumeID, instanceID, device string) error {
	if vol, ok := f.volumes[volumeID]; ok {
		vol.State = aws.String(ec2.VolumeStateInUse)
		vol.Attachments = []*ec2.VolumeAttachment{{InstanceId: aws.String(instanceID), Device: aws.String(device)}}
	}
	return nil
}

func (f *fakeCompute) DeleteVolume(id string) error {
	delete(f.volumes, id)
	return nil
}

func (f *fakeCompute) DescribeNetworkInterfaces(ids ...string) ([]*ec2.NetworkInterface, error) {
	var out []*ec2.NetworkInterface
	for _, id := range ids {
		if eni, ok := f.enis[id]; ok {
			out = append(out, eni)
		}
	}
	return out, nil
}

func (f *fakeCompute) ModifyNetworkInterfaceAttribute(*ec2.ModifyNetworkInterfaceAttributeInput) error {
	return nil
}

func (f *fakeCompute) AttachNetworkInterface(eniID, instanceID string, deviceIndex int64) (string, error) {
	return "eni-attach-0123456789abcdef0", nil
}

func (f *fakeCompute) DescribeAddresses() ([]*ec2.Address, error) {
	var all []*ec2.Address
	for _, addrs := range f.addresses {
		all = append(all, addrs...)
	}
	return all, nil
}

func (f *fakeCompute) AssociateAddressToENI(allocationID, eniID string) error {
	f.associatedENIs = append(f.associatedENIs, eniID)
	return nil
}

func (f *fakeCompute) DescribeSpotInstanceRequests(ids ...string) ([]*ec2.SpotInstanceRequest, error) {
	var out []*ec2.SpotInstanceRequest
	for _, id := range ids {
		if req, ok := f.spotReqs[id]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeCompute) CancelSpotInstanceRequests(ids ...string) error {
	f.cancelledSpotReqs = append(f.cancelledSpotReqs, ids...)
	return nil
}

func (f *fakeCompute) CreateTags(resourceIDs []string, tags map[string]string) error {
	for _, id := range resourceIDs {
		f.createdTags[id] = tags
	}
	return nil
}

func (f *fakeCompute) DeleteTags(resourceIDs []string, keys []string) error {
	for _, id := range resourceIDs {
		f.deletedTags[id] = keys
	}
	return nil
}

// fakeLoadBalancer is a minimal cloudapi.LoadBalancer stand-in.
type fakeLoadBalancer struct {
	targetGroups map[string][]*elbv2.TargetGroup
	health       map[string]string
}

func (f *fakeLoadBalancer) DescribeTargetGroupsForInstance(instanceID string) ([]*elbv2.TargetGroup, error) {
	return f.targetGroups[instanceID], nil
}

func (f *fakeLoadBalancer) DescribeTargetHealth(targetGroupARN, instanceID string) (string, error) {
	return f.health[targetGroupARN], nil
}

func (f *fakeLoadBalancer) RegisterTarget(string, string, int64) error   { return nil }
func (f *fakeLoadBalancer) DeregisterTarget(string, string, int64) error { return nil }

// fakeMetricAlarm is a minimal cloudapi.MetricAlarm stand-in.
type fakeMetricAlarm struct {
	alarms []*cloudwatch.MetricAlarm
	put    []*cloudwatch.PutMetricAlarmInput
}

func (f *fakeMetricAlarm) DescribeAlarmsForInstance(string) ([]*cloudwatch.MetricAlarm, error) {
	return f.alarms, nil
}

func (f *fakeMetricAlarm) PutMetricAlarm(input *cloudwatch.PutMetricAlarmInput) error {
	f.put = append(f.put, input)
	return nil
}

// fakeKeyManagement is a minimal cloudapi.KeyManagement stand-in.
type fakeKeyManagement struct {
	keys map[string]*kms.KeyMetadata
}

func (f *fakeKeyManagement) DescribeKey(keyID string) (*kms.KeyMetadata, error) {
	if k, ok := f.keys[keyID]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("no such key %s", keyID)
}

// fakeAccelerator is a minimal cloudapi.Accelerator stand-in.
type fakeAccelerator struct{}

func (f *fakeAccelerator) DescribeElasticInferenceAccelerators(...string) ([]map[string]interface{}, error) {
	return nil, nil
}
