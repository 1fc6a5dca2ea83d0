// Package devnode enumerates hardware device nodes and their identifying
// properties. The display resolver uses it to bind monitors to physical
// panels, and the enablement gate uses it to toggle rotation-lock sensors.
package devnode

import (
	"errors"
	"unicode/utf16"
)

// ErrUnsupported is returned by nodes that cannot change their enablement state.
var ErrUnsupported = errors.New("devnode: operation not supported")

// Node is one hardware device node.
type Node interface {
	// HardwareIDs returns the node's hardware id list in firmware order.
	HardwareIDs() ([]string, error)

	// Driver returns the node's driver key entries.
	Driver() ([]string, error)

	// PanelID returns the container identifier of the panel the node is
	// physically attached to.
	PanelID() (string, error)

	// SetEnabled requests a global enable or disable state change.
	SetEnabled(enabled bool) error
}

// Tree walks all device nodes present on the system.
type Tree interface {
	// Walk calls visit for every node until visit returns true. Nodes are
	// only valid for the duration of the callback.
	Walk(visit func(Node) (stop bool)) error
}

// DecodeMultiSZ splits a REG_MULTI_SZ style buffer of UTF-16 code units into
// its entries. Decoding stops at the first empty entry or at the end of the
// buffer, whichever comes first.
func DecodeMultiSZ(buf []uint16) []string {
	var out []string
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0 {
			continue
		}
		if i == start {
			return out
		}
		out = append(out, string(utf16.Decode(buf[start:i])))
		start = i + 1
	}
	if start < len(buf) && buf[len(buf)-1] != 0 {
		// unterminated trailing entry
		out = append(out, string(utf16.Decode(buf[start:])))
	}
	return out
}

// DecodeMultiSZBytes is DecodeMultiSZ over a little-endian byte buffer as
// returned by property APIs.
func DecodeMultiSZBytes(b []byte) []string {
	buf := make([]uint16, len(b)/2)
	for i := range buf {
		buf[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return DecodeMultiSZ(buf)
}

// EncodeMultiSZ builds a double-NUL terminated buffer from entries.
func EncodeMultiSZ(entries []string) []uint16 {
	var buf []uint16
	for _, e := range entries {
		buf = append(buf, utf16.Encode([]rune(e))...)
		buf = append(buf, 0)
	}
	return append(buf, 0)
}
