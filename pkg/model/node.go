package model

// Names holds the display metadata of a node.
type Names struct {
	BrowseName  string `yaml:"browse_name" json:"browse_name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Node is the identity shared by every address-space node: its NodeID and
// a weak reference to the context it publishes into.
type Node struct {
	id    NodeID
	names Names
	ref   ContextRef
}

func newNode(ref ContextRef, id NodeID, names Names) Node {
	if names.DisplayName == "" {
		names.DisplayName = names.BrowseName
	}
	return Node{id: id, names: names, ref: ref}
}

// ID returns the node identifier.
func (n *Node) ID() NodeID { return n.id }

// BrowseName returns the node's browse name.
func (n *Node) BrowseName() string { return n.names.BrowseName }

// DisplayName returns the node's display name.
func (n *Node) DisplayName() string { return n.names.DisplayName }

// Description returns the node's description.
func (n *Node) Description() string { return n.names.Description }

// context resolves the owning protocol context.
func (n *Node) context() (Context, error) {
	return n.ref.Resolve()
}

// detach drops the context reference.
func (n *Node) detach() {
	n.ref = ContextRef{}
}
