package recipe

import (
	"testing"

	"github.com/jjgarcianorway/anna/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallPackagePlan(t *testing.T) {
	plan := InstallPackage(ManagerPacman, "htop")
	assert.Equal(t, protocol.OpPackageAction, plan.Operation.Kind)
	assert.Equal(t, "install", plan.Operation.Verb)
	assert.Equal(t, "htop", plan.Operation.Package)
	assert.Equal(t, protocol.RiskMedium, plan.Risk)
	assert.Equal(t, protocol.PlanProposed, plan.State)
}

func TestRestartServiceRefusesProtected(t *testing.T) {
	_, ok := RestartService("dbus")
	assert.False(t, ok)
}

func TestStopServiceRefusesProtected(t *testing.T) {
	_, ok := StopService("NetworkManager")
	assert.False(t, ok)
}

func TestRestartServiceAllowsUnprotected(t *testing.T) {
	plan, ok := RestartService("docker")
	require.True(t, ok)
	assert.Equal(t, "restart", plan.Operation.Action)
	assert.Equal(t, "docker", plan.Operation.Unit)
}

func TestIsProtectedMatchesWithOrWithoutSuffix(t *testing.T) {
	assert.True(t, IsProtected("dbus"))
	assert.True(t, IsProtected("dbus.service"))
	assert.False(t, IsProtected("cups"))
}
