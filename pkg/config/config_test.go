package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, BillingModelSpot, c.TargetBillingModel)
	assert.Equal(t, DefaultDynamoDBTableName, c.DynamoDBTableName)
	assert.Equal(t, []string{"unused", "healthy"}, c.WaitForTGStates)
}

func TestLoadFileOverlaysOnlyPresentFields(t *testing.T) {
	c := New()
	c.InstanceID = "i-0123456789abcdef0"

	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target-billing-model: on-demand
delete-ami: true
`), 0o600))

	require.NoError(t, c.LoadFile(path))

	assert.Equal(t, BillingModelOnDemand, c.TargetBillingModel)
	assert.True(t, c.DeleteAMI)
	// Fields absent from the overlay are untouched.
	assert.Equal(t, "i-0123456789abcdef0", c.InstanceID)
	assert.Equal(t, DefaultDynamoDBTableName, c.DynamoDBTableName)
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	c := New()
	err := c.LoadFile(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestAllTargetGroups(t *testing.T) {
	c := New()
	assert.True(t, c.AllTargetGroups())
	assert.False(t, c.TargetGroupsEnabled())

	c.CheckTargetGroups = []string{"*"}
	assert.True(t, c.AllTargetGroups())
	assert.True(t, c.TargetGroupsEnabled())

	c.CheckTargetGroups = []string{"arn:aws:elasticloadbalancing:...:targetgroup/foo"}
	assert.False(t, c.AllTargetGroups())
}

func TestAllCWAlarms(t *testing.T) {
	c := New()
	assert.True(t, c.AllCWAlarms())
	assert.False(t, c.CWAlarmsEnabled())

	c.UpdateCWAlarms = []string{"prod-"}
	assert.False(t, c.AllCWAlarms())
	assert.True(t, c.CWAlarmsEnabled())
}

func TestSnapshotReflectsCurrentValues(t *testing.T) {
	c := New()
	c.InstanceID = "i-0123456789abcdef0"
	c.Force = true

	snap := c.Snapshot()
	assert.Equal(t, "i-0123456789abcdef0", snap["instance-id"])
	assert.Equal(t, true, snap["force"])
	assert.Equal(t, string(BillingModelSpot), snap["target-billing-model"])
}
