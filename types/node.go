package types

// NodeKind distinguishes suite nodes from case nodes in a run tree
type NodeKind string

const (
	NodeKindSuite NodeKind = "suite"
	NodeKindCase  NodeKind = "case"
)

// NodeStatus represents the possible states of a run tree node
type NodeStatus string

const (
	StatusPending     NodeStatus = "pending"
	StatusRunning     NodeStatus = "running"
	StatusDownloading NodeStatus = "downloading"
	StatusSuccess     NodeStatus = "success"
	StatusFailed      NodeStatus = "failed"
)

// Terminal returns true once a node can no longer transition within the same run
func (s NodeStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// RunNode is one node of a run tree: a suite with its case children, or a
// single case. Plain data, no rendering coupling.
type RunNode struct {
	Name        string
	Kind        NodeKind
	Status      NodeStatus
	Children    []*RunNode
	ArtifactID  string
	ErrorDetail string // set only when Status is failed
}

// NewSuiteNode builds a fresh suite tree: the suite is running, every case
// starts out pending.
func NewSuiteNode(suite string, caseNames []string) *RunNode {
	node := &RunNode{
		Name:     suite,
		Kind:     NodeKindSuite,
		Status:   StatusRunning,
		Children: make([]*RunNode, 0, len(caseNames)),
	}
	for _, name := range caseNames {
		node.Children = append(node.Children, &RunNode{
			Name:   name,
			Kind:   NodeKindCase,
			Status: StatusPending,
		})
	}
	return node
}

// Case returns the child case with the given name, or nil
func (n *RunNode) Case(name string) *RunNode {
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// Clone returns a deep copy of the node and its children. Snapshot accessors
// hand out clones so readers never race with in-flight mutations.
func (n *RunNode) Clone() *RunNode {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Children != nil {
		clone.Children = make([]*RunNode, len(n.Children))
		for i, child := range n.Children {
			clone.Children[i] = child.Clone()
		}
	}
	return &clone
}

// AllChildrenTerminal reports whether every case under the suite has reached
// a terminal status
func (n *RunNode) AllChildrenTerminal() bool {
	for _, child := range n.Children {
		if !child.Status.Terminal() {
			return false
		}
	}
	return true
}

// SuiteStatusFromChildren computes the suite rollup: failed if any case
// failed, success otherwise. Only meaningful once AllChildrenTerminal is true;
// before that the suite's status stays caller-managed.
func (n *RunNode) SuiteStatusFromChildren() NodeStatus {
	for _, child := range n.Children {
		if child.Status == StatusFailed {
			return StatusFailed
		}
	}
	return StatusSuccess
}
