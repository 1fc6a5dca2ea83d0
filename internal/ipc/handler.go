package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/health"
	"duodisplayd/internal/journal"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/router"
	"duodisplayd/internal/sensors"
)

// Orchestrator is the part of engine.Orchestrator driven over IPC.
type Orchestrator interface {
	Status() engine.Status
	ToggleFavoriteSingleScreenDisplay(ctx context.Context, src engine.PostureSource) (engine.Result, error)
	ApplyCurrentPosture(ctx context.Context, src engine.PostureSource) (engine.Result, error)
}

// RouterStatus reports the event router state.
type RouterStatus interface {
	States() map[string]router.SourceState
	Discovered() bool
}

// History is the transaction journal.
type History interface {
	History(ctx context.Context, limit int) ([]journal.Entry, error)
	Count(ctx context.Context) (int, error)
}

// Bridge receives readings pushed by sensor bridge helpers.
type Bridge interface {
	Hello(posture, flip bool)
	Discovered() bool
	PushPosture(reading sensors.PostureReading)
	PushFlip(reading sensors.FlipReading)
}

// DaemonHandlerConfig configures the daemon handler. Journal, Metrics,
// Health and Bridge are optional.
type DaemonHandlerConfig struct {
	Version      string
	Orchestrator Orchestrator
	Posture      engine.PostureSource
	Router       RouterStatus
	Journal      History
	Metrics      *metrics.Registry
	Health       *health.Checker
	Bridge       Bridge
	Logger       *logging.Logger
}

// DaemonHandler implements Handler for duodisplayd.
type DaemonHandler struct {
	cfg       DaemonHandlerConfig
	validator *Validator
	startedAt time.Time
	log       *logging.Logger
	now       func() time.Time
}

// NewDaemonHandler creates the handler and compiles the bridge schemas.
func NewDaemonHandler(cfg DaemonHandlerConfig) (*DaemonHandler, error) {
	if cfg.Orchestrator == nil || cfg.Posture == nil || cfg.Router == nil {
		return nil, errors.New("ipc: orchestrator, posture source and router are required")
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &DaemonHandler{
		cfg:       cfg,
		validator: v,
		startedAt: time.Now(),
		log:       logging.OrDefault(cfg.Logger).WithComponent("ipc"),
		now:       time.Now,
	}, nil
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, msg)
	case MsgToggleFavorite:
		return h.handleTransaction(ctx, msg, MsgToggleFavoriteResp, h.cfg.Orchestrator.ToggleFavoriteSingleScreenDisplay)
	case MsgReapply:
		return h.handleTransaction(ctx, msg, MsgReapplyResp, h.cfg.Orchestrator.ApplyCurrentPosture)
	case MsgGetHistory:
		return h.handleHistory(ctx, msg)
	case MsgGetMetrics:
		return h.handleMetrics(msg)
	case MsgBridgeHello, MsgPushPosture, MsgPushFlip:
		return h.handleBridge(client, msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, fmt.Sprintf("unknown message type %s", msg.Header.Type)), nil
	}
}

func (h *DaemonHandler) handleStatus(ctx context.Context, msg *Message) (*Message, error) {
	st := h.cfg.Orchestrator.Status()
	resp := &StatusResponse{
		Version:             h.cfg.Version,
		Uptime:              time.Since(h.startedAt).Truncate(time.Second),
		StartedAt:           h.startedAt,
		Display1Favorite:    st.Display1Favorite,
		AutoRotationEnabled: st.AutoRotationEnabled,
		Rotation1:           st.Rotation1.Degrees(),
		Rotation2:           st.Rotation2.Degrees(),
		SettleDelay:         st.SettleDelay,
		SensorsDiscovered:   h.cfg.Router.Discovered(),
		Subscriptions:       make(map[string]string),
	}
	for src, state := range h.cfg.Router.States() {
		resp.Subscriptions[src] = state.String()
	}
	if st.Last != nil {
		resp.Last = transactionInfo(*st.Last)
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	if h.cfg.Health != nil {
		report := h.cfg.Health.Report(ctx)
		resp.Health = &report
	}
	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleTransaction(ctx context.Context, msg *Message, respType MessageType,
	run func(context.Context, engine.PostureSource) (engine.Result, error)) (*Message, error) {
	res, err := run(ctx, h.cfg.Posture)
	resp := &TransactionResponse{Success: err == nil}
	if res.TransactionID != "" {
		resp.Transaction = transactionInfo(res)
	}
	if err != nil {
		resp.Error = err.Error()
		h.log.Warn("control request failed", "request", msg.Header.Type, "error", err)
	}
	return NewResponse(respType, msg.Header.RequestID, resp)
}

func transactionInfo(res engine.Result) *TransactionInfo {
	info := &TransactionInfo{
		ID:        res.TransactionID,
		Started:   res.Started,
		Duration:  res.Duration,
		Enabled1:  res.Request.Enabled1,
		Enabled2:  res.Request.Enabled2,
		Rotation1: res.Request.Rotation1.Degrees(),
		Rotation2: res.Request.Rotation2.Degrees(),
		Primary:   res.Primary,
		Shortcut:  res.Shortcut,
	}
	for _, err := range res.SoftFailures {
		info.SoftFailures = append(info.SoftFailures, err.Error())
	}
	return info
}

func (h *DaemonHandler) handleHistory(ctx context.Context, msg *Message) (*Message, error) {
	if h.cfg.Journal == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "journal disabled"), nil
	}
	var req HistoryRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid history request"), nil
		}
	}
	entries, err := h.cfg.Journal.History(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	total, err := h.cfg.Journal.Count(ctx)
	if err != nil {
		return nil, err
	}
	return NewResponse(MsgGetHistoryResp, msg.Header.RequestID, &HistoryResponse{Total: total, Entries: entries})
}

func (h *DaemonHandler) handleMetrics(msg *Message) (*Message, error) {
	if h.cfg.Metrics == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "metrics disabled"), nil
	}
	var buf bytes.Buffer
	if err := h.cfg.Metrics.WritePrometheus(&buf); err != nil {
		return nil, err
	}
	return NewResponse(MsgGetMetricsResp, msg.Header.RequestID, &MetricsResponse{
		Values:     h.cfg.Metrics.Snapshot(),
		Prometheus: buf.String(),
	})
}

func (h *DaemonHandler) handleBridge(client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	if h.cfg.Bridge == nil {
		return NewErrorMessage(id, ErrUnavailable, "sensor bridge disabled"), nil
	}
	if err := h.validator.Validate(msg.Header.Type, msg.Payload); err != nil {
		h.log.Debug("rejected bridge payload", "client", client.ID, "error", err)
		return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
	}

	switch msg.Header.Type {
	case MsgBridgeHello:
		var hello BridgeHello
		if err := Decode(msg.Payload, &hello); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
		}
		h.cfg.Bridge.Hello(hello.Posture, hello.Flip)
		h.log.Info("sensor bridge hello", "client", client.ID, "name", hello.Name,
			"posture", hello.Posture, "flip", hello.Flip)
		return NewResponse(MsgBridgeHelloAck, id, &BridgeHelloAck{Discovered: h.cfg.Bridge.Discovered()})

	case MsgPushPosture:
		reading, err := h.postureReading(msg.Payload)
		if err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
		}
		h.cfg.Bridge.PushPosture(reading)

	case MsgPushFlip:
		var push FlipPush
		if err := Decode(msg.Payload, &push); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
		}
		state, err := sensors.ParseGestureState(push.State)
		if err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
		}
		h.cfg.Bridge.PushFlip(sensors.FlipReading{State: state, Timestamp: h.stamp(push.Timestamp)})
	}
	return NewMessage(MsgPushAck, id, nil), nil
}

func (h *DaemonHandler) postureReading(payload []byte) (sensors.PostureReading, error) {
	var push PosturePush
	if err := Decode(payload, &push); err != nil {
		return sensors.PostureReading{}, err
	}
	o1, err := orientation.ParseSimpleOrientation(push.Panel1Orientation)
	if err != nil {
		return sensors.PostureReading{}, err
	}
	o2, err := orientation.ParseSimpleOrientation(push.Panel2Orientation)
	if err != nil {
		return sensors.PostureReading{}, err
	}
	hinge, err := sensors.ParseHingeState(push.Hinge)
	if err != nil {
		return sensors.PostureReading{}, err
	}
	return sensors.PostureReading{
		Panel1ID:          push.Panel1ID,
		Panel2ID:          push.Panel2ID,
		Panel1Orientation: o1,
		Panel2Orientation: o2,
		Hinge:             hinge,
		Timestamp:         h.stamp(push.Timestamp),
	}, nil
}

func (h *DaemonHandler) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return h.now()
	}
	return t
}
