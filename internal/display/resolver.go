package display

import (
	"fmt"

	"duodisplayd/internal/devnode"
	"duodisplayd/internal/logging"
)

// Resolver binds panel container ids to display devices. Nothing is cached:
// devices are re-enumerated on every call because handles do not survive a
// topology change.
type Resolver struct {
	sub  Subsystem
	tree devnode.Tree
	log  *logging.Logger
}

// NewResolver creates a resolver over the display subsystem and device tree.
func NewResolver(sub Subsystem, tree devnode.Tree, log *logging.Logger) *Resolver {
	return &Resolver{
		sub:  sub,
		tree: tree,
		log:  logging.OrDefault(log).WithComponent("resolver"),
	}
}

// Resolve returns the first display device whose monitor is bound to panelID.
func (r *Resolver) Resolve(panelID string) (Device, error) {
	devices, err := r.sub.Devices()
	if err != nil {
		return Device{}, fmt.Errorf("enumerate display devices: %w", err)
	}

	for _, dev := range devices {
		// A device whose tree walk fails counts as not bound.
		bound, err := BoundToPanel(r.tree, dev.MonitorID, panelID)
		if err != nil {
			r.log.Warn("walk device tree", "device", dev.Name, "monitor", dev.MonitorID, "error", err)
			continue
		}
		if bound {
			r.log.Debug("panel resolved", "panel", panelID, "device", dev.Name, "attached", dev.Attached)
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%w: panel %s", ErrNotFound, panelID)
}

// BoundToPanel reports whether some node of tree describes the monitor
// monitorID and sits on panel panelID.
//
// A node matches when one of its hardware ids is a prefix-compatible head of
// monitorID, one of its driver keys is prefix-compatible with the remainder
// of monitorID after that hardware id and its separator, and its panel id
// equals panelID. Nodes whose properties cannot be read are skipped.
func BoundToPanel(tree devnode.Tree, monitorID, panelID string) (bool, error) {
	found := false
	err := tree.Walk(func(n devnode.Node) bool {
		ids, err := n.HardwareIDs()
		if err != nil {
			return false
		}
		entry, ok := firstPrefixMatch(monitorID, ids)
		if !ok {
			return false
		}

		offset := len(entry) + 1
		if offset > len(monitorID) {
			return false
		}
		drivers, err := n.Driver()
		if err != nil {
			return false
		}
		if _, ok := firstPrefixMatch(monitorID[offset:], drivers); !ok {
			return false
		}

		id, err := n.PanelID()
		if err != nil || id != panelID {
			return false
		}
		found = true
		return true
	})
	return found, err
}

// firstPrefixMatch returns the first entry whose leading
// min(len(s), len(entry)) bytes equal those of s.
func firstPrefixMatch(s string, entries []string) (string, bool) {
	for _, e := range entries {
		n := min(len(s), len(e))
		if s[:n] == e[:n] {
			return e, true
		}
	}
	return "", false
}

// BestDisplayMode returns the live mode of an attached device. A detached
// device has no live mode, so the enumerated mode with the greatest height
// is returned instead, the first one winning ties.
func BestDisplayMode(sub Subsystem, dev Device) (Mode, error) {
	if dev.Attached {
		m, err := sub.CurrentMode(dev)
		if err != nil {
			return Mode{}, fmt.Errorf("%w: current mode of %s: %w", ErrNotFound, dev.Name, err)
		}
		return m, nil
	}

	modes, err := sub.Modes(dev)
	if err != nil {
		return Mode{}, fmt.Errorf("%w: modes of %s: %w", ErrNotFound, dev.Name, err)
	}

	var best Mode
	for _, m := range modes {
		if m.Height > best.Height {
			best = m
		}
	}
	if best.Height == 0 {
		return Mode{}, fmt.Errorf("%w: no usable mode for %s", ErrNotFound, dev.Name)
	}
	return best, nil
}
