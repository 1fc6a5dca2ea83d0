package legacy

import (
	"encoding/binary"
	"fmt"

	"duodisplayd/internal/orientation"
)

// Wire layout of a rotation command: a 40-byte x64 port message header
// followed by a 16-byte rotation payload, little endian.
const (
	HeaderSize  = 40
	PayloadSize = 16
	MessageSize = HeaderSize + PayloadSize

	// MaxMessageLength is requested when connecting to the port.
	MaxMessageLength = MessageSize

	portMessageRequest = 1
	rotationCommand    = 2
)

// EncodeRotation returns the rotation command announcing rotation.
func EncodeRotation(rotation orientation.Rotation) []byte {
	buf := make([]byte, MessageSize)
	binary.LittleEndian.PutUint16(buf[0:], PayloadSize)
	binary.LittleEndian.PutUint16(buf[2:], MessageSize)
	binary.LittleEndian.PutUint16(buf[4:], portMessageRequest)
	// remaining header fields stay zero

	binary.LittleEndian.PutUint32(buf[HeaderSize:], rotationCommand)
	binary.LittleEndian.PutUint32(buf[HeaderSize+12:], uint32(int32(rotation)))
	return buf
}

// DecodeRotation parses a rotation command produced by EncodeRotation.
func DecodeRotation(buf []byte) (orientation.Rotation, error) {
	if len(buf) != MessageSize {
		return 0, fmt.Errorf("rotation message is %d bytes, want %d", len(buf), MessageSize)
	}
	if n := binary.LittleEndian.Uint16(buf[0:]); n != PayloadSize {
		return 0, fmt.Errorf("data length %d, want %d", n, PayloadSize)
	}
	if n := binary.LittleEndian.Uint16(buf[2:]); n != MessageSize {
		return 0, fmt.Errorf("total length %d, want %d", n, MessageSize)
	}
	if t := binary.LittleEndian.Uint32(buf[HeaderSize:]); t != rotationCommand {
		return 0, fmt.Errorf("unexpected payload type %d", t)
	}
	r := orientation.Rotation(int32(binary.LittleEndian.Uint32(buf[HeaderSize+12:])))
	if !r.Valid() {
		return 0, fmt.Errorf("invalid rotation %d", r)
	}
	return r, nil
}
