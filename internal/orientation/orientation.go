// Package orientation maps accelerometer readings to display rotations and
// computes the two-panel placement rules used by the display engine.
package orientation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAmbiguous is returned when a face-up or face-down reading is mapped
// without resolving it against the other panel first.
var ErrAmbiguous = errors.New("orientation is ambiguous")

// SimpleOrientation is the coarse orientation reported for one panel.
type SimpleOrientation int

const (
	NotRotated SimpleOrientation = iota
	Rotated90CCW
	Rotated180CCW
	Rotated270CCW
	FaceUp
	FaceDown
)

var orientationNames = map[SimpleOrientation]string{
	NotRotated:    "not_rotated",
	Rotated90CCW:  "rotated_90_ccw",
	Rotated180CCW: "rotated_180_ccw",
	Rotated270CCW: "rotated_270_ccw",
	FaceUp:        "face_up",
	FaceDown:      "face_down",
}

func (o SimpleOrientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// IsAmbiguous reports whether the panel is lying flat and has no usable rotation.
func (o SimpleOrientation) IsAmbiguous() bool {
	return o == FaceUp || o == FaceDown
}

// ParseSimpleOrientation parses the names produced by String.
func ParseSimpleOrientation(s string) (SimpleOrientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for o, name := range orientationNames {
		if name == s {
			return o, nil
		}
	}
	return NotRotated, fmt.Errorf("unknown orientation: %q", s)
}

// Rotation is a display rotation in the OS numbering (DMDO_DEFAULT, DMDO_90,
// DMDO_180, DMDO_270). The parity of the value decides whether width and
// height are transposed.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

func (r Rotation) String() string {
	switch r {
	case Rotate0:
		return "0"
	case Rotate90:
		return "90"
	case Rotate180:
		return "180"
	case Rotate270:
		return "270"
	default:
		return fmt.Sprintf("rotation(%d)", int(r))
	}
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// Valid reports whether r is one of the four rotations.
func (r Rotation) Valid() bool {
	return r >= Rotate0 && r <= Rotate270
}

// ToDisplayRotation maps a device-frame orientation to the OS rotation.
// Counter-clockwise device rotation becomes the opposite-sense OS value.
func ToDisplayRotation(o SimpleOrientation) (Rotation, error) {
	switch o {
	case NotRotated:
		return Rotate0, nil
	case Rotated90CCW:
		return Rotate270, nil
	case Rotated180CCW:
		return Rotate180, nil
	case Rotated270CCW:
		return Rotate90, nil
	case FaceUp, FaceDown:
		return Rotate0, fmt.Errorf("%w: %s", ErrAmbiguous, o)
	default:
		return Rotate0, fmt.Errorf("unknown orientation %d", int(o))
	}
}

// ResolveAmbiguity copies the determinate orientation onto the ambiguous
// panel when exactly one of the two is ambiguous. Otherwise both values are
// returned unchanged.
func ResolveAmbiguity(o1, o2 SimpleOrientation) (SimpleOrientation, SimpleOrientation) {
	a1, a2 := o1.IsAmbiguous(), o2.IsAmbiguous()
	switch {
	case a1 && !a2:
		return o2, o2
	case a2 && !a1:
		return o1, o1
	default:
		return o1, o2
	}
}

// NeedsSwap reports whether moving from current to target transposes the
// panel between portrait and landscape.
func NeedsSwap(current, target Rotation) bool {
	return (int(current)+int(target))%2 == 1
}

// Point is a desktop position.
type Point struct {
	X int
	Y int
}

// Size is a pixel extent.
type Size struct {
	Width  int
	Height int
}

// AdjacentOffsets returns the positions of panel 1 and panel 2 when both are
// on. One of the two always stays at the origin and becomes primary. The
// other is placed flush against it along the axis implied by rotation1.
func AdjacentOffsets(rotation1 Rotation, size1, size2 Size) (p1, p2 Point) {
	switch rotation1 {
	case Rotate0:
		p1.X = -size2.Width
	case Rotate180:
		p2.X = -size1.Width
	case Rotate90:
		p1.Y = -size2.Height
	case Rotate270:
		p2.Y = -size1.Height
	}
	return p1, p2
}
