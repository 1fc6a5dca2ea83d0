package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// RemoteError is an error response from the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// IPCClient talks to a running daemon.
type IPCClient struct {
	mu        sync.RWMutex
	conn      net.Conn
	sessionID string
	version   string
	connected atomic.Bool
	writeMu   sync.Mutex

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	wg     sync.WaitGroup
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "duodisplayd-cli",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &IPCClient{
		pending: make(map[uint32]chan *Message),
		config:  cfg,
	}
}

// Connect dials the daemon and performs the handshake.
func (c *IPCClient) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	conn, err := dial(ctx, c.config.SocketPath, c.config.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	if err := c.handshake(ctx); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close closes the connection and waits for the reader.
func (c *IPCClient) Close() error {
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version from the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *IPCClient) handshake(ctx context.Context) error {
	var ack HandshakeResponse
	err := c.call(ctx, MsgHandshake, MsgHandshakeAck, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}, &ack)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// call sends a request and decodes a response of type want into out. out
// may be nil for responses without payload.
func (c *IPCClient) call(ctx context.Context, msgType, want MessageType, payload, out any) error {
	resp, err := c.request(ctx, msgType, payload)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(resp.Payload, &e); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response type: %s", resp.Header.Type)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	return Decode(resp.Payload, out)
}

func (c *IPCClient) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.write(conn, NewMessage(msgType, reqID, data)); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(c.config.RequestTimeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *IPCClient) write(conn net.Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(conn)
}

func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			c.close()
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(conn, NewMessage(MsgPong, msg.Header.RequestID, nil))
		default:
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.Header.RequestID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.call(ctx, MsgPing, MsgPong, nil, nil)
}

// Status returns the daemon status including health.
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, MsgStatusRequest, MsgStatusResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleFavorite flips the favorite single-screen panel.
func (c *IPCClient) ToggleFavorite(ctx context.Context) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.call(ctx, MsgToggleFavorite, MsgToggleFavoriteResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reapply re-applies the current posture.
func (c *IPCClient) Reapply(ctx context.Context) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.call(ctx, MsgReapply, MsgReapplyResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit journal entries, newest first.
func (c *IPCClient) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call(ctx, MsgGetHistory, MsgGetHistoryResp, &HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics returns a metrics snapshot.
func (c *IPCClient) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var resp MetricsResponse
	if err := c.call(ctx, MsgGetMetrics, MsgGetMetricsResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BridgeHello announces the sensors this client will push.
func (c *IPCClient) BridgeHello(ctx context.Context, hello BridgeHello) (*BridgeHelloAck, error) {
	var ack BridgeHelloAck
	if err := c.call(ctx, MsgBridgeHello, MsgBridgeHelloAck, &hello, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// PushPosture sends one posture reading.
func (c *IPCClient) PushPosture(ctx context.Context, push PosturePush) error {
	return c.call(ctx, MsgPushPosture, MsgPushAck, &push, nil)
}

// PushFlip sends one flip reading.
func (c *IPCClient) PushFlip(ctx context.Context, push FlipPush) error {
	return c.call(ctx, MsgPushFlip, MsgPushAck, &push, nil)
}
