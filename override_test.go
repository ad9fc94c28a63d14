package otgw

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideBoxSetpointRange(t *testing.T) {
	box := newOverrideBox(clock.NewMock())

	require.NoError(t, box.setSetpoint(55))
	assert.Error(t, box.setSetpoint(9.9))
	assert.Error(t, box.setSetpoint(100.1))

	ov := box.state(90 * time.Second)
	assert.True(t, ov.hasSetpoint)
	assert.Equal(t, 55.0, ov.setpoint)
}

func TestOverrideBoxFreshness(t *testing.T) {
	mock := clock.NewMock()
	box := newOverrideBox(mock)

	// No heartbeat yet: never fresh, even immediately after construction.
	assert.False(t, box.state(90*time.Second).fresh)

	box.touch(1)
	assert.True(t, box.state(90*time.Second).fresh)

	mock.Add(89 * time.Second)
	assert.True(t, box.state(90*time.Second).fresh)

	mock.Add(31 * time.Second)
	assert.False(t, box.state(90*time.Second).fresh, "a 120s old heartbeat is stale at a 90s threshold")

	box.touch(2)
	assert.True(t, box.state(90*time.Second).fresh)
}

func TestOverrideBoxControlAndCHEnable(t *testing.T) {
	box := newOverrideBox(clock.NewMock())

	ov := box.state(time.Minute)
	assert.False(t, ov.control)
	assert.False(t, ov.hasCHEnable)

	box.setControl(true)
	box.setCHEnable(false)
	ov = box.state(time.Minute)
	assert.True(t, ov.control)
	assert.True(t, ov.hasCHEnable)
	assert.False(t, ov.chEnable)
}
