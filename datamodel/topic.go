package datamodel

import "strings"

// PathSeparator joins topic labels into the serialized form used as the
// identity key for per-topic outcome reporting.
const PathSeparator = " / "

// TopicPath is the ordered sequence of labels from the tree root to a node.
type TopicPath []string

// String returns the serialized path, used as the outcome map key.
func (p TopicPath) String() string {
	return strings.Join(p, PathSeparator)
}

// Child returns a new path extended with the given label. The receiver is
// never modified; workers hold paths concurrently.
func (p TopicPath) Child(label string) TopicPath {
	out := make(TopicPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, label)
}

// Clone returns an independent copy of the path.
func (p TopicPath) Clone() TopicPath {
	out := make(TopicPath, len(p))
	copy(out, p)
	return out
}

// TopicNode is a node in the topic taxonomy tree. A parent owns its children;
// the tree contains no cycles. Samples generated for a topic are appended to
// the node in insertion order.
type TopicNode struct {
	Label    string       `json:"label"`
	Children []*TopicNode `json:"children,omitempty"`
	Samples  []Sample     `json:"samples,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *TopicNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// AddChild appends a child with the given label and returns it.
func (n *TopicNode) AddChild(label string) *TopicNode {
	child := &TopicNode{Label: label}
	n.Children = append(n.Children, child)
	return child
}

// Target pairs a topic node with its full path from the true root.
type Target struct {
	Node *TopicNode
	Path TopicPath
}

// Key returns the serialized path identifying the target.
func (t Target) Key() string {
	return t.Path.String()
}

// CollectLeafTargets walks the subtree rooted at node and returns every node
// with zero children, each annotated with its full path from the true root.
// The target set is {node} ∪ {all descendants}, filtered to leaves, so the
// root itself is included when it is a leaf. path must be node's own path.
func CollectLeafTargets(node *TopicNode, path TopicPath) []Target {
	if node == nil {
		return nil
	}
	var targets []Target
	var walk func(n *TopicNode, p TopicPath)
	walk = func(n *TopicNode, p TopicPath) {
		if n.IsLeaf() {
			targets = append(targets, Target{Node: n, Path: p})
			return
		}
		for _, c := range n.Children {
			walk(c, p.Child(c.Label))
		}
	}
	walk(node, path.Clone())
	return targets
}
