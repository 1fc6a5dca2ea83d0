// Package ipc connects duodisplayd to its control CLI and to sensor bridge
// helpers over a Unix socket or, on Windows, a named pipe.
//
// Every message is a 16-byte big-endian header followed by a JSON payload.
// Requests carry an id that the response echoes.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"duodisplayd/internal/health"
	"duodisplayd/internal/journal"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x44445043 // "DDPC"
)

// MaxPayload bounds a single message payload.
const MaxPayload = 1 << 20

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Protocol messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Control messages (0x01xx)
	MsgStatusRequest      MessageType = 0x0100
	MsgStatusResponse     MessageType = 0x0101
	MsgToggleFavorite     MessageType = 0x0102
	MsgToggleFavoriteResp MessageType = 0x0103
	MsgReapply            MessageType = 0x0104
	MsgReapplyResp        MessageType = 0x0105
	MsgGetHistory         MessageType = 0x0106
	MsgGetHistoryResp     MessageType = 0x0107
	MsgGetMetrics         MessageType = 0x0108
	MsgGetMetricsResp     MessageType = 0x0109

	// Sensor bridge messages (0x02xx)
	MsgBridgeHello    MessageType = 0x0200
	MsgBridgeHelloAck MessageType = 0x0201
	MsgPushPosture    MessageType = 0x0202
	MsgPushFlip       MessageType = 0x0203
	MsgPushAck        MessageType = 0x0204
)

var messageNames = map[MessageType]string{
	MsgPing:               "ping",
	MsgPong:               "pong",
	MsgHandshake:          "handshake",
	MsgHandshakeAck:       "handshake_ack",
	MsgError:              "error",
	MsgStatusRequest:      "status",
	MsgStatusResponse:     "status_resp",
	MsgToggleFavorite:     "toggle_favorite",
	MsgToggleFavoriteResp: "toggle_favorite_resp",
	MsgReapply:            "reapply",
	MsgReapplyResp:        "reapply_resp",
	MsgGetHistory:         "history",
	MsgGetHistoryResp:     "history_resp",
	MsgGetMetrics:         "metrics",
	MsgGetMetricsResp:     "metrics_resp",
	MsgBridgeHello:        "bridge_hello",
	MsgBridgeHelloAck:     "bridge_hello_ack",
	MsgPushPosture:        "push_posture",
	MsgPushFlip:           "push_flip",
	MsgPushAck:            "push_ack",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message(0x%04x)", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) bytes() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	return buf
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	_, err := w.Write(h.bytes())
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message in a single call so that message-mode pipes see
// one message.
func (m *Message) Write(w io.Writer) error {
	_, err := w.Write(append(m.Header.bytes(), m.Payload...))
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrInternalError  = 5
	ErrUnavailable    = 7
)

// StatusResponse contains the daemon and orchestrator state.
type StatusResponse struct {
	Version             string            `json:"version"`
	Uptime              time.Duration     `json:"uptime"`
	StartedAt           time.Time         `json:"started_at"`
	Display1Favorite    bool              `json:"display1_favorite"`
	AutoRotationEnabled bool              `json:"auto_rotation_enabled"`
	Rotation1           int               `json:"rotation1"`
	Rotation2           int               `json:"rotation2"`
	SettleDelay         time.Duration     `json:"settle_delay"`
	SensorsDiscovered   bool              `json:"sensors_discovered"`
	Subscriptions       map[string]string `json:"subscriptions,omitempty"`
	Last                *TransactionInfo  `json:"last,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	Health              *health.Report    `json:"health,omitempty"`
}

// TransactionInfo summarizes one display transaction.
type TransactionInfo struct {
	ID           string        `json:"id"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Enabled1     bool          `json:"enabled1"`
	Enabled2     bool          `json:"enabled2"`
	Rotation1    int           `json:"rotation1"`
	Rotation2    int           `json:"rotation2"`
	Primary      string        `json:"primary,omitempty"`
	Shortcut     bool          `json:"shortcut,omitempty"`
	SoftFailures []string      `json:"soft_failures,omitempty"`
}

// TransactionResponse answers toggle and reapply requests.
type TransactionResponse struct {
	Success     bool             `json:"success"`
	Transaction *TransactionInfo `json:"transaction,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// HistoryRequest asks for the newest journal entries.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse contains journal entries, newest first.
type HistoryResponse struct {
	Total   int             `json:"total"`
	Entries []journal.Entry `json:"entries"`
}

// MetricsResponse contains a snapshot of the metrics registry.
type MetricsResponse struct {
	Values     map[string]float64 `json:"values"`
	Prometheus string             `json:"prometheus,omitempty"`
}

// BridgeHello announces the sensors a bridge helper provides.
type BridgeHello struct {
	Name    string `json:"name"`
	Posture bool   `json:"posture"`
	Flip    bool   `json:"flip"`
}

// BridgeHelloAck reports whether discovery is complete.
type BridgeHelloAck struct {
	Discovered bool `json:"discovered"`
}

// PosturePush is one posture reading from a bridge.
type PosturePush struct {
	Panel1ID          string    `json:"panel1_id,omitempty"`
	Panel2ID          string    `json:"panel2_id,omitempty"`
	Panel1Orientation string    `json:"panel1_orientation"`
	Panel2Orientation string    `json:"panel2_orientation"`
	Hinge             string    `json:"hinge"`
	Timestamp         time.Time `json:"timestamp,omitzero"`
}

// FlipPush is one flip gesture reading from a bridge.
type FlipPush struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
