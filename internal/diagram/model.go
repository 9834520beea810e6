package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindNode   NodeKind = "node"   // plain capability, follows its static edge
	NodeKindRouter NodeKind = "router" // declares dynamic targets
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// Virtual node ids.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
	// RunStatus is set when a run trace was overlaid.
	RunStatus string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what a run did at a node.
type StatusOverlay struct {
	Status     string // completed, failed, running
	Visits     int
	DurationMs int64 // summed over visits
	Error      string
}

// Edge is a transition between two nodes. Dynamic edges come from a node's
// declared targets rather than the static edge map.
type Edge struct {
	From    string
	To      string
	Label   string
	Dynamic bool
	Taken   int // times the overlaid run followed this edge
}
