package wire

import (
	"errors"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// Status represents a response status code.
type Status uint8

const (
	// StatusGood indicates the operation completed successfully.
	StatusGood Status = 0

	// StatusBadNodeIDUnknown indicates the node doesn't exist.
	StatusBadNodeIDUnknown Status = 1

	// StatusBadNotReadable indicates the variable denies client reads.
	StatusBadNotReadable Status = 2

	// StatusBadNotWritable indicates the variable denies client writes.
	StatusBadNotWritable Status = 3

	// StatusBadTypeMismatch indicates the value tag differs from the
	// variable's declared data type.
	StatusBadTypeMismatch Status = 4

	// StatusBadInvalidArgument indicates a malformed request or payload.
	StatusBadInvalidArgument Status = 5

	// StatusBadServiceUnsupported indicates an unknown operation.
	StatusBadServiceUnsupported Status = 6

	// StatusBadShutdown indicates the server is shutting down.
	StatusBadShutdown Status = 7

	// StatusBadInternalError indicates an unexpected server failure.
	StatusBadInternalError Status = 8
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusGood:
		return "Good"
	case StatusBadNodeIDUnknown:
		return "BadNodeIdUnknown"
	case StatusBadNotReadable:
		return "BadNotReadable"
	case StatusBadNotWritable:
		return "BadNotWritable"
	case StatusBadTypeMismatch:
		return "BadTypeMismatch"
	case StatusBadInvalidArgument:
		return "BadInvalidArgument"
	case StatusBadServiceUnsupported:
		return "BadServiceUnsupported"
	case StatusBadShutdown:
		return "BadShutdown"
	case StatusBadInternalError:
		return "BadInternalError"
	default:
		return "Unknown"
	}
}

// IsGood returns true if the status indicates success.
func (s Status) IsGood() bool {
	return s == StatusGood
}

// StatusFromError maps an address-space error to a status code.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusGood
	case errors.Is(err, model.ErrNodeNotFound):
		return StatusBadNodeIDUnknown
	case errors.Is(err, model.ErrNotReadable):
		return StatusBadNotReadable
	case errors.Is(err, model.ErrNotWritable):
		return StatusBadNotWritable
	case errors.Is(err, model.ErrTypeMismatch):
		return StatusBadTypeMismatch
	case errors.Is(err, model.ErrNodeClass), errors.Is(err, model.ErrInvalidNodeID):
		return StatusBadInvalidArgument
	case errors.Is(err, model.ErrContextDestroyed):
		return StatusBadShutdown
	default:
		return StatusBadInternalError
	}
}
