//go:build !windows

package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/health"
	"duodisplayd/internal/journal"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/router"
	"duodisplayd/internal/sensors"
)

type fakeOrch struct {
	mu       sync.Mutex
	favorite bool
	toggles  int
	reapply  int
	fail     error
}

func (o *fakeOrch) Status() engine.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return engine.Status{
		Display1Favorite:    o.favorite,
		AutoRotationEnabled: true,
		Rotation1:           orientation.Rotate90,
		Rotation2:           orientation.Rotate90,
		SettleDelay:         time.Second,
		Last: &engine.Result{
			TransactionID: "tx-1",
			Request:       engine.Request{Enabled1: true, Enabled2: true, Rotation1: orientation.Rotate90, Rotation2: orientation.Rotate90},
			Primary:       "panel-2",
		},
	}
}

func (o *fakeOrch) result() engine.Result {
	return engine.Result{
		TransactionID: "tx-2",
		Request:       engine.Request{Enabled1: o.favorite, Enabled2: !o.favorite},
		Shortcut:      true,
		SoftFailures:  []error{errors.New("legacy rotation notification: closed")},
	}
}

func (o *fakeOrch) ToggleFavoriteSingleScreenDisplay(ctx context.Context, src engine.PostureSource) (engine.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.toggles++
	o.favorite = !o.favorite
	if o.fail != nil {
		return engine.Result{}, o.fail
	}
	return o.result(), nil
}

func (o *fakeOrch) ApplyCurrentPosture(ctx context.Context, src engine.PostureSource) (engine.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reapply++
	if o.fail != nil {
		return engine.Result{}, o.fail
	}
	return o.result(), nil
}

type fakeRouter struct{ discovered bool }

func (r *fakeRouter) States() map[string]router.SourceState {
	return map[string]router.SourceState{"posture": router.Subscribed, "system_power": router.Unsubscribed}
}

func (r *fakeRouter) Discovered() bool { return r.discovered }

type fakeHistory struct{ entries []journal.Entry }

func (h *fakeHistory) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit > 0 && limit < len(h.entries) {
		return h.entries[:limit], nil
	}
	return h.entries, nil
}

func (h *fakeHistory) Count(ctx context.Context) (int, error) { return len(h.entries), nil }

type harness struct {
	orch   *fakeOrch
	hub    *sensors.Hub
	server *Server
	client *IPCClient
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func newHarness(t *testing.T, mutate func(*DaemonHandlerConfig)) *harness {
	t.Helper()
	log := logging.NewDiscard()
	h := &harness{orch: &fakeOrch{}, hub: sensors.NewHub(log)}

	reg := metrics.NewRegistry("duodisplayd")
	metrics.NewOrchestratorMetrics(reg).TransactionsTotal.Add(3)
	checker := health.NewChecker()
	checker.RegisterFunc("sensors", true, health.SensorsCheck(h.hub.Discovered))

	cfg := DaemonHandlerConfig{
		Version:      "1.2.3",
		Orchestrator: h.orch,
		Posture:      h.hub,
		Router:       &fakeRouter{discovered: true},
		Journal: &fakeHistory{entries: []journal.Entry{
			{ID: "b", Outcome: journal.OutcomeApplied},
			{ID: "a", Outcome: journal.OutcomeFailed, Error: "commit: boom"},
		}},
		Metrics: reg,
		Health:  checker,
		Bridge:  h.hub,
		Logger:  log,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := NewDaemonHandler(cfg)
	require.NoError(t, err)

	path := shortSocketPath(t)
	scfg := DefaultServerConfig(path)
	scfg.Version = "1.2.3"
	scfg.Logger = log
	h.server = NewServer(scfg, handler)
	require.NoError(t, h.server.Start())
	t.Cleanup(func() { h.server.Stop() })

	ccfg := DefaultClientConfig(path)
	ccfg.RequestTimeout = 5 * time.Second
	h.client = NewClient(ccfg)
	require.NoError(t, h.client.Connect(context.Background()))
	t.Cleanup(func() { h.client.Close() })
	return h
}

func TestHandshakeAndPing(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "1.2.3", h.client.ServerVersion())
	assert.NotEmpty(t, h.client.SessionID())
	assert.NoError(t, h.client.Ping(context.Background()))
	assert.Eventually(t, func() bool { return h.server.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	st, err := h.client.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", st.Version)
	assert.True(t, st.AutoRotationEnabled)
	assert.Equal(t, 90, st.Rotation1)
	assert.True(t, st.SensorsDiscovered)
	assert.Equal(t, "subscribed", st.Subscriptions["posture"])
	assert.Equal(t, "unsubscribed", st.Subscriptions["system_power"])
	require.NotNil(t, st.Last)
	assert.Equal(t, "tx-1", st.Last.ID)
	require.NotNil(t, st.Health)
	assert.Equal(t, health.StatusUnhealthy, st.Health.Status, "hub has not been discovered")
}

func TestToggleAndReapply(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp, err := h.client.ToggleFavorite(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Transaction)
	assert.True(t, resp.Transaction.Shortcut)
	assert.Equal(t, []string{"legacy rotation notification: closed"}, resp.Transaction.SoftFailures)

	_, err = h.client.Reapply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.orch.toggles)
	assert.Equal(t, 1, h.orch.reapply)

	h.orch.mu.Lock()
	h.orch.fail = errors.New("current_posture: sensor not discovered")
	h.orch.mu.Unlock()
	resp, err = h.client.Reapply(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Transaction)
	assert.Contains(t, resp.Error, "sensor not discovered")
}

func TestHistoryAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	hist, err := h.client.History(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Total)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, "b", hist.Entries[0].ID)

	m, err := h.client.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), m.Values["duodisplayd_transactions_total"])
	assert.Contains(t, m.Prometheus, "duodisplayd_transactions_total 3")
}

func TestOptionalComponentsDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *DaemonHandlerConfig) {
		cfg.Journal = nil
		cfg.Metrics = nil
		cfg.Bridge = nil
	})
	ctx := context.Background()

	var remote *RemoteError
	_, err := h.client.History(ctx, 0)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrUnavailable, remote.Code)

	_, err = h.client.Metrics(ctx)
	require.ErrorAs(t, err, &remote)

	_, err = h.client.BridgeHello(ctx, BridgeHello{Posture: true, Flip: true})
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "sensor bridge disabled", remote.Message)
}

func TestBridgeFeedsHub(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ack, err := h.client.BridgeHello(ctx, BridgeHello{Name: "winrt", Posture: true})
	require.NoError(t, err)
	assert.False(t, ack.Discovered)

	ack, err = h.client.BridgeHello(ctx, BridgeHello{Name: "winrt", Flip: true})
	require.NoError(t, err)
	assert.True(t, ack.Discovered)

	postures := make(chan sensors.PostureReading, 1)
	cancel, err := h.hub.SubscribePosture(func(r sensors.PostureReading) { postures <- r })
	require.NoError(t, err)
	defer cancel()
	flips := make(chan sensors.FlipReading, 1)
	cancelFlip, err := h.hub.SubscribeFlip(func(r sensors.FlipReading) { flips <- r })
	require.NoError(t, err)
	defer cancelFlip()

	require.NoError(t, h.client.PushPosture(ctx, PosturePush{
		Panel1ID:          "SDC4179",
		Panel1Orientation: "rotated_270_ccw",
		Panel2Orientation: "face_up",
		Hinge:             "full",
	}))
	r := <-postures
	assert.Equal(t, "SDC4179", r.Panel1ID)
	assert.Equal(t, orientation.Rotated270CCW, r.Panel1Orientation)
	assert.Equal(t, orientation.FaceUp, r.Panel2Orientation)
	assert.Equal(t, sensors.HingeFull, r.Hinge)
	assert.False(t, r.Timestamp.IsZero())

	current, err := h.hub.CurrentPosture(ctx)
	require.NoError(t, err)
	assert.Equal(t, r, current)

	stamp := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	require.NoError(t, h.client.PushFlip(ctx, FlipPush{State: "completed", Timestamp: stamp}))
	f := <-flips
	assert.Equal(t, sensors.GestureCompleted, f.State)
	assert.True(t, f.Timestamp.Equal(stamp))
}

func TestBridgeRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	err := h.client.PushPosture(context.Background(), PosturePush{
		Panel1Orientation: "upside",
		Panel2Orientation: "face_up",
		Hinge:             "full",
	})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)
	_, err = h.hub.CurrentPosture(context.Background())
	assert.Error(t, err, "rejected reading must not reach the hub")
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := h.client.request(context.Background(), MessageType(0x0999), nil)
	require.NoError(t, err)
	assert.Equal(t, MsgError, resp.Header.Type)
}

func TestConnectionLimit(t *testing.T) {
	path := shortSocketPath(t)
	cfg := DefaultServerConfig(path)
	cfg.MaxConnections = 1
	cfg.Logger = logging.NewDiscard()
	s := NewServer(cfg, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	first := NewClient(DefaultClientConfig(path))
	require.NoError(t, first.Connect(context.Background()))
	defer first.Close()

	ccfg := DefaultClientConfig(path)
	ccfg.RequestTimeout = time.Second
	second := NewClient(ccfg)
	assert.Error(t, second.Connect(context.Background()))
	second.Close()
}

func TestStartRefusesRunningDaemon(t *testing.T) {
	path := shortSocketPath(t)
	cfg := DefaultServerConfig(path)
	cfg.Logger = logging.NewDiscard()
	s := NewServer(cfg, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	other := NewServer(cfg, nil)
	assert.Error(t, other.Start())
}

func TestStopRemovesSocket(t *testing.T) {
	path := shortSocketPath(t)
	cfg := DefaultServerConfig(path)
	cfg.Logger = logging.NewDiscard()
	s := NewServer(cfg, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	c := NewClient(DefaultClientConfig(path))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrDaemonNotRunning)
}

func TestNewDaemonHandlerRequiresCore(t *testing.T) {
	_, err := NewDaemonHandler(DaemonHandlerConfig{})
	assert.Error(t, err)
}
