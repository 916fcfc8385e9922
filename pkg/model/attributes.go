package model

// Access flags for variables.
type Access uint8

const (
	// AccessRead allows clients to read the value.
	AccessRead Access = 1 << iota

	// AccessWrite allows clients to write the value.
	AccessWrite

	AccessReadOnly  = AccessRead
	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead returns true if client reads are allowed.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite returns true if client writes are allowed.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// String returns a short representation of the access flags.
func (a Access) String() string {
	s := ""
	if a.CanRead() {
		s += "R"
	}
	if a.CanWrite() {
		s += "W"
	}
	if s == "" {
		return "-"
	}
	return s
}

// NodeClass distinguishes object and variable nodes.
type NodeClass uint8

const (
	NodeClassObject   NodeClass = 1
	NodeClassVariable NodeClass = 2
)

// String returns the node class name.
func (c NodeClass) String() string {
	switch c {
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	default:
		return "Unspecified"
	}
}

// ObjectAttributes describes an object node to publish.
type ObjectAttributes struct {
	ID             NodeID        `cbor:"1,keyasint"`
	Parent         NodeID        `cbor:"2,keyasint"`
	Reference      ReferenceKind `cbor:"3,keyasint"`
	BrowseName     string        `cbor:"4,keyasint"`
	DisplayName    string        `cbor:"5,keyasint,omitempty"`
	Description    string        `cbor:"6,keyasint,omitempty"`
	TypeDefinition NodeID        `cbor:"7,keyasint"`
}

// VariableAttributes describes a variable node to publish.
type VariableAttributes struct {
	ID             NodeID        `cbor:"1,keyasint"`
	Parent         NodeID        `cbor:"2,keyasint"`
	Reference      ReferenceKind `cbor:"3,keyasint"`
	BrowseName     string        `cbor:"4,keyasint"`
	DisplayName    string        `cbor:"5,keyasint,omitempty"`
	Description    string        `cbor:"6,keyasint,omitempty"`
	TypeDefinition NodeID        `cbor:"7,keyasint"`
	DataType       DataType      `cbor:"8,keyasint"`
	Access         Access        `cbor:"9,keyasint"`
	Value          Variant       `cbor:"10,keyasint"`
}
