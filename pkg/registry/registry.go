// Package registry holds the canonical, ordered Step Registry (spec.md §4.1):
// the 26 steps of a conversion, each a {name, pretty-name, description,
// handler, gate} tuple. Order is significant and constitutes the conversion
// contract.
package registry

import (
	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/handlers"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// Step is one registry entry.
type Step struct {
	Name        string
	PrettyName  string
	Description string
	Gate        types.Gate
	Handler     handlers.Func
}

// Steps is the canonical, ordered step sequence.
var Steps = []Step{
	{
		Name: "read-state-table", PrettyName: "Read state table",
		Description: "Load the job's Conversion Record, or start a fresh one.",
		Gate:        types.Always, Handler: handlers.ReadStateTable,
	},
	{
		Name: "discover-instance-state", PrettyName: "Discover instance state",
		Description: "Validate eligibility and capture the source instance's full state.",
		Gate:        types.Always, Handler: handlers.DiscoverInstanceState,
	},
	{
		Name: "deregister-from-target-groups", PrettyName: "Deregister from target groups",
		Description: "Remove the source instance from every tracked load balancer target group.",
		Gate:        types.IfPresent("check-targetgroups"), Handler: handlers.DeregisterFromTargetGroups,
	},
	{
		Name: "drain-elb-target-groups", PrettyName: "Drain ELB target groups",
		Description: "Wait for the source instance to report unused in every target group.",
		Gate:        types.IfPresent("check-targetgroups"), Handler: handlers.DrainELBTargetGroups,
	},
	{
		Name: "stop-instance", PrettyName: "Stop instance",
		Description: "Stop the source instance, unless stopping is disallowed.",
		Gate:        types.Always, Handler: handlers.StopInstance,
	},
	{
		Name: "wait-stop-instance", PrettyName: "Wait for instance to stop",
		Description: "Poll until the source instance reports stopped.",
		Gate:        types.Always, Handler: handlers.WaitStopInstance,
	},
	{
		Name: "tag-all-resources", PrettyName: "Tag all resources",
		Description: "Tag the instance, its ENIs and its volumes with the job id.",
		Gate:        types.Always, Handler: handlers.TagAllResources,
	},
	{
		Name: "detach-volumes", PrettyName: "Detach volumes",
		Description: "Detach every non-root, retained volume from the source instance.",
		Gate:        types.Always, Handler: handlers.DetachVolumes,
	},
	{
		Name: "wait-volume-detach", PrettyName: "Wait for volumes to detach",
		Description: "Poll until every detached volume is available.",
		Gate:        types.Always, Handler: handlers.WaitVolumeDetach,
	},
	{
		Name: "create-ami", PrettyName: "Create AMI",
		Description: "Build an AMI from the root device and every volume deleted on termination.",
		Gate:        types.Always, Handler: handlers.CreateAMI,
	},
	{
		Name: "prepare-network-interfaces", PrettyName: "Prepare network interfaces",
		Description: "Clear DeleteOnTermination on every ENI attachment.",
		Gate:        types.Always, Handler: handlers.PrepareNetworkInterfaces,
	},
	{
		Name: "wait-ami", PrettyName: "Wait for AMI",
		Description: "Poll until the AMI becomes available.",
		Gate:        types.Always, Handler: handlers.WaitAMI,
	},
	{
		Name: "instance-state-checkpoint", PrettyName: "Checkpoint instance state",
		Description: "Snapshot the instance descriptor immediately before termination.",
		Gate:        types.Always, Handler: handlers.InstanceStateCheckpoint,
	},
	{
		Name: "terminate-instance", PrettyName: "Terminate instance",
		Description: "Cancel any spot request and terminate the source instance.",
		Gate:        types.Always, Handler: handlers.TerminateInstance,
	},
	{
		Name: "wait-resource-release", PrettyName: "Wait for resource release",
		Description: "Poll for ENI and instance release; force-delete an orphaned root volume.",
		Gate:        types.Always, Handler: handlers.WaitResourceRelease,
	},
	{
		Name: "create-new-instance", PrettyName: "Create new instance",
		Description: "Assemble and launch the replacement instance.",
		Gate:        types.Always, Handler: handlers.CreateNewInstance,
	},
	{
		Name: "wait-new-instance", PrettyName: "Wait for new instance",
		Description: "Poll until the new instance reports running.",
		Gate:        types.Always, Handler: handlers.WaitNewInstance,
	},
	{
		Name: "reattach-volumes", PrettyName: "Reattach volumes",
		Description: "Re-tag AMI-created volumes and reattach detached volumes.",
		Gate:        types.Always, Handler: handlers.ReattachVolumes,
	},
	{
		Name: "configure-network-interfaces", PrettyName: "Configure network interfaces",
		Description: "Restore each ENI's original DeleteOnTermination flag.",
		Gate:        types.Always, Handler: handlers.ConfigureNetworkInterfaces,
	},
	{
		Name: "manage-elastic-ip", PrettyName: "Manage elastic IP",
		Description: "Re-associate any elastic IP to the new instance's ENI.",
		Gate:        types.Always, Handler: handlers.ManageElasticIP,
	},
	{
		Name: "register-to-elb-target-groups", PrettyName: "Register to target groups",
		Description: "Re-register the new instance to every tracked target group.",
		Gate:        types.IfPresent("check-targetgroups"), Handler: handlers.RegisterToELBTargetGroups,
	},
	{
		Name: "reboot-if-needed", PrettyName: "Reboot if needed",
		Description: "Reboot the new instance if a volume was attached post-boot and requested.",
		Gate:        types.Always, Handler: handlers.RebootIfNeeded,
	},
	{
		Name: "update-cloudwatch-alarms", PrettyName: "Update CloudWatch alarms",
		Description: "Remap matching alarms from the source instance id to the new one.",
		Gate:        types.IfPresent("update-cw-alarms"), Handler: handlers.UpdateCloudWatchAlarms,
	},
	{
		Name: "untag-resources", PrettyName: "Untag resources",
		Description: "Remove the job-id tag from all resources and record the final state.",
		Gate:        types.Always, Handler: handlers.UntagResources,
	},
	{
		Name: "wait-target-groups", PrettyName: "Wait for target groups",
		Description: "Poll until every target reaches an acceptable end state.",
		Gate:        types.IfPresent("check-targetgroups"), Handler: handlers.WaitTargetGroups,
	},
	{
		Name: "deregister-image", PrettyName: "Deregister image",
		Description: "Deregister the AMI and delete its snapshots, if requested.",
		Gate:        types.IfPresent("delete-ami"), Handler: handlers.DeregisterImage,
	},
}

// IndexOf returns the position of the named step in Steps, or -1.
func IndexOf(name string) int {
	for i, s := range Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// ByPrettyName resolves a step's pretty name back to its canonical name, used
// by `reset-step` to accept the names `--list-steps` prints.
func ByPrettyName(pretty string) (string, bool) {
	for _, s := range Steps {
		if s.PrettyName == pretty {
			return s.Name, true
		}
	}
	return "", false
}

// GateOpen evaluates a Gate against the effective configuration.
func GateOpen(gate types.Gate, cfg *config.Config) bool {
	switch gate.Kind {
	case types.GateAlways:
		return true
	case types.GateIfPresent:
		return configKeySet(gate.Key, cfg)
	case types.GateIfAbsent:
		return !configKeySet(gate.Key, cfg)
	default:
		return true
	}
}

func configKeySet(key string, cfg *config.Config) bool {
	switch key {
	case "check-targetgroups":
		return cfg.TargetGroupsEnabled()
	case "update-cw-alarms":
		return cfg.CWAlarmsEnabled()
	case "delete-ami":
		return cfg.DeleteAMI
	default:
		return false
	}
}
