package wire

// Operation represents an address-space service request.
type Operation uint8

const (
	// OpRead returns a node's attributes and, for variables, its value.
	OpRead Operation = 1

	// OpWrite sets a variable's value. Subject to the variable's access
	// flags and declared data type.
	OpWrite Operation = 2

	// OpBrowse lists the forward hierarchical references of a node.
	OpBrowse Operation = 3
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpBrowse:
		return "Browse"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is known.
func (o Operation) IsValid() bool {
	return o >= OpRead && o <= OpBrowse
}
