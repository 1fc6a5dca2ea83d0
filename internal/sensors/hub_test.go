package sensors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duodisplayd/internal/logging"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/sensors"
)

func TestHubDiscovery(t *testing.T) {
	hub := sensors.NewHub(logging.NewDiscard())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Discover(ctx), sensors.ErrNotDiscovered)

	hub.Hello(true, false)
	assert.False(t, hub.Discovered())
	_, err := hub.SubscribePosture(func(sensors.PostureReading) {})
	assert.ErrorIs(t, err, sensors.ErrNotDiscovered)

	hub.Hello(false, true)
	assert.True(t, hub.Discovered())
	require.NoError(t, hub.Discover(context.Background()))

	// a repeated hello must not close the channel twice
	hub.Hello(true, true)
}

func TestHubDiscoverWaitsForHello(t *testing.T) {
	hub := sensors.NewHub(logging.NewDiscard())
	errc := make(chan error, 1)
	go func() { errc <- hub.Discover(context.Background()) }()

	hub.Hello(true, true)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Discover did not return after hello")
	}
}

func TestHubPosture(t *testing.T) {
	hub := sensors.NewHub(logging.NewDiscard())
	hub.Hello(true, true)
	ctx := context.Background()

	_, err := hub.CurrentPosture(ctx)
	assert.ErrorIs(t, err, sensors.ErrNotDiscovered)

	var got []sensors.PostureReading
	cancel, err := hub.SubscribePosture(func(r sensors.PostureReading) { got = append(got, r) })
	require.NoError(t, err)

	reading := sensors.PostureReading{
		Panel1ID:          "p1",
		Panel2ID:          "p2",
		Panel1Orientation: orientation.Rotated90CCW,
		Panel2Orientation: orientation.FaceUp,
		Hinge:             sensors.HingeFull,
	}
	hub.PushPosture(reading)
	require.Len(t, got, 1)
	assert.Equal(t, reading, got[0])

	current, err := hub.CurrentPosture(ctx)
	require.NoError(t, err)
	assert.Equal(t, reading, current)

	cancel()
	hub.PushPosture(reading)
	assert.Len(t, got, 1)
	p, f := hub.Subscribers()
	assert.Equal(t, 0, p)
	assert.Equal(t, 0, f)
}

func TestHubFlip(t *testing.T) {
	hub := sensors.NewHub(logging.NewDiscard())
	hub.Hello(true, true)

	var a, b []sensors.GestureState
	cancelA, err := hub.SubscribeFlip(func(r sensors.FlipReading) { a = append(a, r.State) })
	require.NoError(t, err)
	_, err = hub.SubscribeFlip(func(r sensors.FlipReading) { b = append(b, r.State) })
	require.NoError(t, err)

	hub.PushFlip(sensors.FlipReading{State: sensors.GestureStarted})
	cancelA()
	hub.PushFlip(sensors.FlipReading{State: sensors.GestureCompleted})

	assert.Equal(t, []sensors.GestureState{sensors.GestureStarted}, a)
	assert.Equal(t, []sensors.GestureState{sensors.GestureStarted, sensors.GestureCompleted}, b)
}

func TestStateStrings(t *testing.T) {
	for _, h := range []sensors.HingeState{sensors.HingeFull, sensors.HingeNotFull} {
		parsed, err := sensors.ParseHingeState(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, parsed)
	}
	for _, g := range []sensors.GestureState{
		sensors.GestureStarted, sensors.GestureUpdated, sensors.GestureCompleted, sensors.GestureCanceled,
	} {
		parsed, err := sensors.ParseGestureState(g.String())
		require.NoError(t, err)
		assert.Equal(t, g, parsed)
	}
	_, err := sensors.ParseHingeState("half")
	assert.Error(t, err)
	_, err = sensors.ParseGestureState("")
	assert.Error(t, err)
}
