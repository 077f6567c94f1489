package egraph

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ClassID is an opaque handle to an equivalence class.
// Ids are never reused within one EGraph; an id whose class was merged away
// stays valid and resolves to the surviving representative through Find.
type ClassID uint32

// String returns the id as C<n>, matching how snapshots label classes.
func (id ClassID) String() string {
	return "C" + strconv.FormatUint(uint64(id), 10)
}

// Node is an operation label applied to an ordered list of child classes.
// Leaves (constants and concrete variables) have no children.
// Two nodes are the same node iff their labels and child ids are equal.
type Node struct {
	Op       string
	Children []ClassID
}

// NewNode creates a node. The children slice is copied.
func NewNode(op string, children ...ClassID) Node {
	cs := make([]ClassID, len(children))
	copy(cs, children)
	return Node{Op: op, Children: cs}
}

// key returns the hash-cons key. It is only meaningful once the children
// have been canonicalized.
func (n Node) key() string {
	var sb strings.Builder
	sb.Grow(len(n.Op) + 1 + 6*len(n.Children))
	sb.WriteString(n.Op)
	sb.WriteByte(0)
	for i, c := range n.Children {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	return sb.String()
}

// Hash returns a 64-bit hash of the node's label and children.
func (n Node) Hash() uint64 {
	return xxhash.Sum64String(n.key())
}

// Arity returns the number of children.
func (n Node) Arity() int { return len(n.Children) }

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return len(n.Children) == 0 }

// Equal reports structural equality.
func (n Node) Equal(o Node) bool {
	if n.Op != o.Op || len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if n.Children[i] != o.Children[i] {
			return false
		}
	}
	return true
}

// String renders the node with class ids as arguments, e.g. (add C1 C3).
func (n Node) String() string {
	if len(n.Children) == 0 {
		return n.Op
	}
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(n.Op)
	for _, c := range n.Children {
		sb.WriteByte(' ')
		sb.WriteString(c.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// parentRef records that node (stored in class) uses some class as a child.
type parentRef struct {
	node  Node
	class ClassID
}
