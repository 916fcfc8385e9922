package model

import (
	"errors"
	"fmt"
)

// Node errors.
var (
	ErrAlreadyRegistered = errors.New("node already registered")
	ErrNodeDestroyed     = errors.New("node destroyed")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrInvalidNodeID     = errors.New("invalid node id")
)

// Context errors. Implementations of Context return these (wrapped) so
// callers can classify failures with errors.Is.
var (
	ErrContextGone      = errors.New("protocol context gone")
	ErrContextDestroyed = errors.New("protocol context destroyed")
	ErrNodeNotFound     = errors.New("node not found")
	ErrDuplicateNode    = errors.New("duplicate node id")
	ErrParentNotFound   = errors.New("parent node not found")
	ErrNodeClass        = errors.New("wrong node class")
	ErrNotWritable      = errors.New("node not writable")
	ErrNotReadable      = errors.New("node not readable")
)

// RegistrationError reports a failed publish. For a device, ChildIndex is
// the declaration index of the child that failed; it is -1 when the node
// itself could not be published.
type RegistrationError struct {
	NodeID     NodeID
	ChildIndex int
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.ChildIndex >= 0 {
		return fmt.Sprintf("register %s: child %d: %v", e.NodeID, e.ChildIndex, e.Err)
	}
	return fmt.Sprintf("register %s: %v", e.NodeID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// WriteError reports a failed value write. The node keeps its previous
// value.
type WriteError struct {
	NodeID NodeID
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.NodeID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
