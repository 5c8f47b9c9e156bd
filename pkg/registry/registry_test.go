package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
)

func TestStepsCanonicalOrder(t *testing.T) {
	want := []string{
		"read-state-table", "discover-instance-state", "deregister-from-target-groups",
		"drain-elb-target-groups", "stop-instance", "wait-stop-instance", "tag-all-resources",
		"detach-volumes", "wait-volume-detach", "create-ami", "prepare-network-interfaces",
		"wait-ami", "instance-state-checkpoint", "terminate-instance", "wait-resource-release",
		"create-new-instance", "wait-new-instance", "reattach-volumes", "configure-network-interfaces",
		"manage-elastic-ip", "register-to-elb-target-groups", "reboot-if-needed",
		"update-cloudwatch-alarms", "untag-resources", "wait-target-groups", "deregister-image",
	}
	assert.Len(t, Steps, len(want))
	for i, name := range want {
		assert.Equal(t, name, Steps[i].Name, "step %d", i)
		assert.NotNil(t, Steps[i].Handler, "step %s has no handler", name)
	}
}

func TestIndexOf(t *testing.T) {
	assert.Equal(t, 0, IndexOf("read-state-table"))
	assert.Equal(t, 9, IndexOf("create-ami"))
	assert.Equal(t, -1, IndexOf("no-such-step"))
}

func TestGateOpen(t *testing.T) {
	cfg := config.New()
	tgGate := Steps[IndexOf("deregister-from-target-groups")].Gate

	assert.False(t, GateOpen(tgGate, cfg))

	cfg.CheckTargetGroups = []string{"*"}
	assert.True(t, GateOpen(tgGate, cfg))
}

func TestByPrettyName(t *testing.T) {
	name, found := ByPrettyName("Create AMI")
	assert.True(t, found)
	assert.Equal(t, "create-ami", name)

	_, found = ByPrettyName("nonexistent")
	assert.False(t, found)
}
