package addrspace

import (
	"fmt"
	"slices"

	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// StandardNamespaceURI is namespace 0.
const StandardNamespaceURI = "http://opcfoundation.org/UA/"

// node is the stored form of a published node.
type node struct {
	class     model.NodeClass
	id        model.NodeID
	parent    model.NodeID
	reference model.ReferenceKind
	names     model.Names
	typeDef   model.NodeID

	// Variables only.
	dataType model.DataType
	access   model.Access
	value    model.Variant

	// Forward hierarchical references in insertion order.
	children []model.NodeID
}

func (n *node) readResult() wire.ReadResult {
	return wire.ReadResult{
		NodeID:      n.id,
		Class:       n.class,
		BrowseName:  n.names.BrowseName,
		DisplayName: n.names.DisplayName,
		Description: n.names.Description,
		Parent:      n.parent,
		Reference:   n.reference,
		DataType:    n.dataType,
		Access:      n.access,
		Value:       n.value,
	}
}

// The methods below require s.mu to be held.

func (s *Server) checkAlive() error {
	if s.destroyed {
		return model.ErrContextDestroyed
	}
	return nil
}

func (s *Server) insert(n *node) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if n.id.IsNull() {
		return fmt.Errorf("%w: null node id", model.ErrInvalidNodeID)
	}
	if int(n.id.Namespace) >= len(s.namespaces) {
		return fmt.Errorf("%w: namespace %d not registered", model.ErrInvalidNodeID, n.id.Namespace)
	}
	if _, exists := s.nodes[n.id]; exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateNode, n.id)
	}

	var parent *node
	if !n.parent.IsNull() {
		parent = s.nodes[n.parent]
		if parent == nil {
			return fmt.Errorf("%w: %s", model.ErrParentNotFound, n.parent)
		}
		if parent.class != model.NodeClassObject {
			return fmt.Errorf("%w: parent %s is a %s", model.ErrNodeClass, n.parent, parent.class)
		}
	}

	s.nodes[n.id] = n
	if parent != nil {
		parent.children = append(parent.children, n.id)
	}
	return nil
}

func (s *Server) lookup(id model.NodeID) (*node, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	n := s.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNodeNotFound, id)
	}
	return n, nil
}

func (s *Server) variable(id model.NodeID) (*node, error) {
	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.class != model.NodeClassVariable {
		return nil, fmt.Errorf("%w: %s is a %s", model.ErrNodeClass, id, n.class)
	}
	return n, nil
}

func (s *Server) remove(id model.NodeID) {
	n := s.nodes[id]
	if n == nil {
		return
	}
	for _, child := range slices.Clone(n.children) {
		s.remove(child)
	}
	delete(s.nodes, id)
	if parent := s.nodes[n.parent]; parent != nil {
		parent.children = slices.DeleteFunc(parent.children, func(c model.NodeID) bool { return c == id })
	}
}

func (s *Server) references(id model.NodeID) ([]wire.ReferenceDescription, error) {
	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	refs := make([]wire.ReferenceDescription, 0, len(n.children))
	for _, cid := range n.children {
		c := s.nodes[cid]
		refs = append(refs, wire.ReferenceDescription{
			Reference:   c.reference,
			Target:      c.id,
			Class:       c.class,
			BrowseName:  c.names.BrowseName,
			DisplayName: c.names.DisplayName,
		})
	}
	return refs, nil
}
