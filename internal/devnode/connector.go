package devnode

import (
	"sort"
)

// ConnectorPrefix is the hardware id namespace used for display connectors
// on hosts without a firmware device tree.
const ConnectorPrefix = `DRM\`

// ConnectorMonitorID returns the monitor identifier a connector tree node
// binds to: the connector hardware id followed by the connector name as
// driver key.
func ConnectorMonitorID(connector string) string {
	return ConnectorPrefix + connector + `\` + connector
}

// ConnectorTree is a static device tree built from a panel-to-connector map.
// Each connector becomes one node whose hardware id is DRM\<connector>, whose
// driver key is the connector name and whose panel id is the mapped panel.
type ConnectorTree struct {
	nodes []connectorNode
}

// NewConnectorTree builds a tree from panelID -> connector name.
func NewConnectorTree(outputs map[string]string) *ConnectorTree {
	panels := make([]string, 0, len(outputs))
	for p := range outputs {
		panels = append(panels, p)
	}
	sort.Strings(panels)

	t := &ConnectorTree{}
	for _, p := range panels {
		t.nodes = append(t.nodes, connectorNode{panel: p, connector: outputs[p]})
	}
	return t
}

// Walk implements Tree.
func (t *ConnectorTree) Walk(visit func(Node) bool) error {
	for i := range t.nodes {
		if visit(&t.nodes[i]) {
			return nil
		}
	}
	return nil
}

type connectorNode struct {
	panel     string
	connector string
}

func (n *connectorNode) HardwareIDs() ([]string, error) {
	return []string{ConnectorPrefix + n.connector}, nil
}

func (n *connectorNode) Driver() ([]string, error) {
	return []string{n.connector}, nil
}

func (n *connectorNode) PanelID() (string, error) {
	return n.panel, nil
}

func (n *connectorNode) SetEnabled(bool) error {
	return ErrUnsupported
}
