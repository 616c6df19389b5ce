package orchestrator

import "fmt"

// Node identifies a stage of the loop.
type Node uint8

const (
	NodePlanner Node = iota
	NodeExecutor
	NodeUpdater
	NodeReplanner
	NodeEnd
)

var nodeNames = [...]string{
	NodePlanner:   "planner",
	NodeExecutor:  "task_executor",
	NodeUpdater:   "project_updater",
	NodeReplanner: "replanner",
	NodeEnd:       "end",
}

// String returns the wire name of the node.
func (n Node) String() string {
	if int(n) < len(nodeNames) {
		return nodeNames[n]
	}
	return fmt.Sprintf("Node(%d)", n)
}

// Progress is the completion percentage reported after the node runs.
func (n Node) Progress() int {
	switch n {
	case NodePlanner:
		return 25
	case NodeExecutor:
		return 50
	case NodeUpdater:
		return 75
	case NodeReplanner:
		return 90
	default:
		return 100
	}
}

// ParseNode parses a wire name.
func ParseNode(s string) (Node, error) {
	for i, name := range nodeNames {
		if name == s {
			return Node(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (n Node) MarshalText() ([]byte, error) {
	if int(n) >= len(nodeNames) {
		return nil, fmt.Errorf("invalid node %d", n)
	}
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Node) UnmarshalText(text []byte) error {
	parsed, err := ParseNode(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
