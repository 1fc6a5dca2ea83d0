// Package hwgate enables and disables the per-panel rotation-lock sensor
// nodes that accompany a panel's power state.
package hwgate

import (
	"fmt"
	"slices"

	"duodisplayd/internal/devnode"
	"duodisplayd/internal/logging"
)

// Gate toggles every node carrying the rotation-lock hardware id on a panel.
type Gate struct {
	tree       devnode.Tree
	hardwareID string
	log        *logging.Logger
}

// New creates a gate for nodes whose hardware id list contains hardwareID.
func New(tree devnode.Tree, hardwareID string, log *logging.Logger) *Gate {
	return &Gate{
		tree:       tree,
		hardwareID: hardwareID,
		log:        logging.OrDefault(log).WithComponent("hwgate"),
	}
}

// SetPanelSensorEnabled requests enabled on every matching node of panelID.
// Nodes whose properties cannot be read or whose state change fails are
// skipped; only a failed enumeration is returned. Repeating a call is
// harmless.
func (g *Gate) SetPanelSensorEnabled(panelID string, enabled bool) error {
	matched, changed := 0, 0
	err := g.tree.Walk(func(n devnode.Node) bool {
		ids, err := n.HardwareIDs()
		if err != nil || !slices.Contains(ids, g.hardwareID) {
			return false
		}
		id, err := n.PanelID()
		if err != nil || id != panelID {
			return false
		}
		matched++
		if err := n.SetEnabled(enabled); err != nil {
			g.log.Warn("sensor state change failed", "panel", panelID, "enabled", enabled, "error", err)
			return false
		}
		changed++
		return false
	})
	if err != nil {
		return fmt.Errorf("enumerate sensor nodes: %w", err)
	}
	g.log.Debug("panel sensors updated", "panel", panelID, "enabled", enabled,
		"matched", matched, "changed", changed)
	return nil
}
