// Package displaytest provides in-memory display subsystems and device trees
// for tests.
package displaytest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"duodisplayd/internal/devnode"
	"duodisplayd/internal/display"
)

// Call is one recorded subsystem call.
type Call struct {
	Op     string
	Device string
	Mode   display.Mode
	Flags  display.ApplyFlags
}

func (c Call) String() string {
	switch c.Op {
	case "apply":
		return fmt.Sprintf("apply %s %s [%s]", c.Device, c.Mode, c.Flags)
	case "devices", "commit", "extend":
		return c.Op
	default:
		return c.Op + " " + c.Device
	}
}

type pending struct {
	mode  display.Mode
	flags display.ApplyFlags
}

// Subsystem is a fake display subsystem. Applied modes are staged and become
// the current state on Commit: a zero-sized mode detaches its device, any
// other mode attaches it.
type Subsystem struct {
	mu      sync.Mutex
	devices []display.Device
	current map[string]display.Mode
	modes   map[string][]display.Mode
	staged  map[string]pending
	primary string
	calls   []Call

	// Fail maps an op ("devices", "current", "modes", "apply", "commit",
	// "extend"), optionally suffixed with ":<device>", to the error it returns.
	Fail map[string]error

	// Delay is slept inside every call to widen race windows.
	Delay time.Duration
}

// NewSubsystem returns an empty fake.
func NewSubsystem() *Subsystem {
	return &Subsystem{
		current: make(map[string]display.Mode),
		modes:   make(map[string][]display.Mode),
		staged:  make(map[string]pending),
		Fail:    make(map[string]error),
	}
}

// AddDevice registers a device with its current mode (used when attached)
// and its enumerable modes.
func (s *Subsystem) AddDevice(dev display.Device, current display.Mode, modes ...display.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, dev)
	s.current[dev.Name] = current
	s.modes[dev.Name] = modes
	if dev.Attached && current.X == 0 && current.Y == 0 && s.primary == "" {
		s.primary = dev.Name
	}
}

func (s *Subsystem) record(c Call) error {
	s.calls = append(s.calls, c)
	if err, ok := s.Fail[c.Op+":"+c.Device]; ok {
		return err
	}
	if err, ok := s.Fail[c.Op]; ok {
		return err
	}
	return nil
}

func (s *Subsystem) pause() {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
}

// Devices implements display.Subsystem.
func (s *Subsystem) Devices() ([]display.Device, error) {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "devices"}); err != nil {
		return nil, err
	}
	return append([]display.Device(nil), s.devices...), nil
}

// CurrentMode implements display.Subsystem.
func (s *Subsystem) CurrentMode(dev display.Device) (display.Mode, error) {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "current", Device: dev.Name}); err != nil {
		return display.Mode{}, err
	}
	return s.current[dev.Name], nil
}

// Modes implements display.Subsystem.
func (s *Subsystem) Modes(dev display.Device) ([]display.Mode, error) {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "modes", Device: dev.Name}); err != nil {
		return nil, err
	}
	return append([]display.Mode(nil), s.modes[dev.Name]...), nil
}

// Apply implements display.Subsystem.
func (s *Subsystem) Apply(dev display.Device, mode display.Mode, flags display.ApplyFlags) error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "apply", Device: dev.Name, Mode: mode, Flags: flags}); err != nil {
		return err
	}
	s.staged[dev.Name] = pending{mode: mode, flags: flags}
	return nil
}

// Commit implements display.Subsystem.
func (s *Subsystem) Commit() error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "commit"}); err != nil {
		return err
	}
	for i := range s.devices {
		p, ok := s.staged[s.devices[i].Name]
		if !ok {
			continue
		}
		s.devices[i].Attached = !p.mode.IsZero()
		if s.devices[i].Attached {
			s.current[s.devices[i].Name] = p.mode
		}
		if p.flags&display.SetPrimary != 0 {
			s.primary = s.devices[i].Name
		}
	}
	s.staged = make(map[string]pending)
	return nil
}

// ExtendTopology implements display.Subsystem.
func (s *Subsystem) ExtendTopology() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "extend"}); err != nil {
		return err
	}
	for i := range s.devices {
		s.devices[i].Attached = true
	}
	return nil
}

// Calls returns the recorded call log.
func (s *Subsystem) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Applies returns only the recorded apply calls.
func (s *Subsystem) Applies() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == "apply" {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the call log.
func (s *Subsystem) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Primary returns the device last committed as primary.
func (s *Subsystem) Primary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// Device returns the current state of the named device.
func (s *Subsystem) Device(name string) (display.Device, display.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Name == name {
			return d, s.current[name]
		}
	}
	return display.Device{}, display.Mode{}
}

// CheckSerialized verifies that the call log is a sequence of whole
// transactions. Each transaction enumerates devices exactly perTxn times,
// applies nothing before its last enumeration and ends with a commit.
func (s *Subsystem) CheckSerialized(perTxn int) error {
	calls := s.Calls()
	enumerations := 0
	for i, c := range calls {
		switch c.Op {
		case "devices":
			enumerations++
			if enumerations > perTxn {
				return fmt.Errorf("call %d: %d enumerations before commit", i, enumerations)
			}
		case "apply":
			if enumerations < perTxn {
				return fmt.Errorf("call %d: %s before both panels were resolved", i, c)
			}
		case "commit":
			if enumerations != perTxn {
				return fmt.Errorf("call %d: commit after %d enumerations", i, enumerations)
			}
			enumerations = 0
		}
	}
	if enumerations != 0 {
		return errors.New("log ends inside a transaction")
	}
	return nil
}

// Node is a fake device node.
type Node struct {
	IDs     []string
	Drivers []string
	Panel   string

	IDsErr    error
	DriverErr error
	PanelErr  error
	SetErr    error

	mu      sync.Mutex
	Enabled *bool
	Toggles []bool
}

// HardwareIDs implements devnode.Node.
func (n *Node) HardwareIDs() ([]string, error) { return n.IDs, n.IDsErr }

// Driver implements devnode.Node.
func (n *Node) Driver() ([]string, error) { return n.Drivers, n.DriverErr }

// PanelID implements devnode.Node.
func (n *Node) PanelID() (string, error) { return n.Panel, n.PanelErr }

// SetEnabled implements devnode.Node.
func (n *Node) SetEnabled(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Toggles = append(n.Toggles, enabled)
	if n.SetErr != nil {
		return n.SetErr
	}
	n.Enabled = &enabled
	return nil
}

// State returns the last successfully applied enable state.
func (n *Node) State() (enabled, known bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Enabled == nil {
		return false, false
	}
	return *n.Enabled, true
}

// Tree is a fake device tree.
type Tree struct {
	Nodes []*Node
	Err   error
	// FailWalks makes the first FailWalks walks return Err.
	FailWalks int
	Walks     int
}

// Walk implements devnode.Tree.
func (t *Tree) Walk(visit func(devnode.Node) bool) error {
	t.Walks++
	if t.Err != nil && (t.FailWalks == 0 || t.Walks <= t.FailWalks) {
		return t.Err
	}
	for _, n := range t.Nodes {
		if visit(n) {
			return nil
		}
	}
	return nil
}

// MonitorNode returns a node that binds monitor hwid\driver to panel.
func MonitorNode(hwid, driver, panel string) *Node {
	return &Node{IDs: []string{hwid}, Drivers: []string{driver}, Panel: panel}
}

// SensorNode returns a rotation-lock sensor node on panel.
func SensorNode(hwid, panel string) *Node {
	return &Node{IDs: []string{hwid, "HID_DEVICE_SYSTEM_SENSOR", "HID_DEVICE"}, Panel: panel}
}
