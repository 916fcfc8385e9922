package model

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a node within the address space. A non-empty Name
// selects the string form; otherwise Numeric is the key.
type NodeID struct {
	Namespace uint16 `cbor:"1,keyasint" json:"ns"`
	Numeric   uint32 `cbor:"2,keyasint,omitempty" json:"i,omitempty"`
	Name      string `cbor:"3,keyasint,omitempty" json:"s,omitempty"`
}

// NumericID returns a numeric node identifier.
func NumericID(ns uint16, id uint32) NodeID {
	return NodeID{Namespace: ns, Numeric: id}
}

// StringID returns a string node identifier.
func StringID(ns uint16, name string) NodeID {
	return NodeID{Namespace: ns, Name: name}
}

// IsString reports whether the identifier uses the string form.
func (id NodeID) IsString() bool { return id.Name != "" }

// IsNull reports whether id is the null identifier (ns=0;i=0).
func (id NodeID) IsNull() bool {
	return id.Namespace == 0 && id.Numeric == 0 && id.Name == ""
}

// String formats the identifier as "ns=<n>;i=<id>" or "ns=<n>;s=<name>".
func (id NodeID) String() string {
	if id.IsString() {
		return fmt.Sprintf("ns=%d;s=%s", id.Namespace, id.Name)
	}
	return fmt.Sprintf("ns=%d;i=%d", id.Namespace, id.Numeric)
}

// ParseNodeID parses the textual form produced by NodeID.String. The
// namespace part may be omitted, in which case namespace 0 is assumed.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	rest := s
	if strings.HasPrefix(rest, "ns=") {
		sep := strings.IndexByte(rest, ';')
		if sep < 0 {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		ns, err := strconv.ParseUint(rest[3:sep], 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		id.Namespace = uint16(ns)
		rest = rest[sep+1:]
	}
	switch {
	case strings.HasPrefix(rest, "i="):
		n, err := strconv.ParseUint(rest[2:], 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		id.Numeric = uint32(n)
	case strings.HasPrefix(rest, "s=") && len(rest) > 2:
		id.Name = rest[2:]
	default:
		return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return id, nil
}

// Well-known nodes of the standard namespace.
var (
	RootFolderID           = NumericID(0, 84)
	ObjectsFolderID        = NumericID(0, 85)
	FolderTypeID           = NumericID(0, 61)
	BaseObjectTypeID       = NumericID(0, 58)
	BaseDataVariableTypeID = NumericID(0, 63)
)

// ReferenceKind is the hierarchical reference type linking a node to its
// parent. Values are the standard namespace identifiers of the types.
type ReferenceKind uint32

const (
	ReferenceOrganizes    ReferenceKind = 35
	ReferenceHasComponent ReferenceKind = 47
)

// String returns the reference type name.
func (k ReferenceKind) String() string {
	switch k {
	case ReferenceOrganizes:
		return "Organizes"
	case ReferenceHasComponent:
		return "HasComponent"
	default:
		return fmt.Sprintf("Reference(%d)", uint32(k))
	}
}

// ID returns the node identifier of the reference type.
func (k ReferenceKind) ID() NodeID { return NumericID(0, uint32(k)) }
