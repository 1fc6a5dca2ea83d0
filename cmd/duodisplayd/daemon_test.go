package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duodisplayd/internal/config"
	"duodisplayd/internal/display"
	"duodisplayd/internal/display/displaytest"
	"duodisplayd/internal/engine"
	"duodisplayd/internal/ipc"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/router"
	"duodisplayd/internal/sensors"
)

func testDaemon(t *testing.T) *Daemon {
	t.Helper()
	log := logging.NewDiscard()
	sub := displaytest.NewSubsystem()
	orch, err := engine.New(engine.Config{
		Subsystem: sub,
		Resolver:  display.NewResolver(sub, &displaytest.Tree{}, log),
		Logger:    log,
		Sleep:     func(time.Duration) {},
	})
	require.NoError(t, err)

	hub := sensors.NewHub(log)
	r, err := router.New(router.Config{
		Posture:      hub,
		Flip:         hub,
		Orchestrator: orch,
		FlipTrigger:  sensors.GestureStarted,
		Logger:       log,
	})
	require.NoError(t, err)

	return &Daemon{log: log, orch: orch, router: r, hub: hub}
}

func TestOnConfigChangeAppliesLiveSettings(t *testing.T) {
	d := testDaemon(t)
	old := config.DefaultConfig()
	updated := config.DefaultConfig()
	updated.Logging.Level = "debug"
	updated.Rotation.FlipTrigger = config.FlipTriggerCompleted
	updated.Rotation.SettleDelayMs = 250

	d.onConfigChange(old, updated)

	assert.Equal(t, logging.LevelDebug, d.log.Level())
	assert.Equal(t, sensors.GestureCompleted, d.router.FlipTrigger())
	assert.Equal(t, 250*time.Millisecond, d.orch.Status().SettleDelay)
}

func TestOnConfigChangeIgnoresInvalidValues(t *testing.T) {
	d := testDaemon(t)
	old := config.DefaultConfig()
	updated := config.DefaultConfig()
	updated.Rotation.FlipTrigger = "sideways"

	d.onConfigChange(old, updated)

	assert.Equal(t, sensors.GestureStarted, d.router.FlipTrigger())
}

func TestRestartOnlyChanges(t *testing.T) {
	old := config.DefaultConfig()
	assert.Empty(t, restartOnlyChanges(old, config.DefaultConfig()))

	updated := config.DefaultConfig()
	updated.Sensors.Backend = config.SensorBackendIIO
	if old.Sensors.Backend == config.SensorBackendIIO {
		updated.Sensors.Backend = config.SensorBackendBridge
	}
	updated.Panels.Panel1ID = "{p1}"
	updated.IPC.SocketPath = "/tmp/other.sock"
	updated.Journal.Enabled = !old.Journal.Enabled
	assert.Equal(t,
		[]string{"sensors.backend", "panels", "ipc.socket_path", "journal"},
		restartOnlyChanges(old, updated))
}

func TestBridgeLineDecoding(t *testing.T) {
	var line bridgeLine
	require.NoError(t, json.Unmarshal([]byte(
		`{"posture":{"panel1_orientation":"not_rotated","panel2_orientation":"rotated_90_ccw","hinge":"full"}}`,
	), &line))
	require.NotNil(t, line.Posture)
	assert.Nil(t, line.Flip)
	assert.Equal(t, "rotated_90_ccw", line.Posture.Panel2Orientation)
	assert.Equal(t, "full", line.Posture.Hinge)

	line = bridgeLine{}
	require.NoError(t, json.Unmarshal([]byte(`{"flip":{"state":"completed"}}`), &line))
	require.NotNil(t, line.Flip)
	assert.Equal(t, "completed", line.Flip.State)
}

func TestPushLineRejectsEmptyLine(t *testing.T) {
	err := pushLine(context.Background(), nil, bridgeLine{})

	var remote *ipc.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, ipc.ErrInvalidRequest, remote.Code)
}
