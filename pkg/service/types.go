package service

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidState  = errors.New("invalid server state")
)

// State represents the server lifecycle state.
type State uint8

const (
	// StateUninitialized - server created, no context yet.
	StateUninitialized State = iota

	// StateInitialized - context created and every node registered.
	StateInitialized

	// StateRunning - service loop running.
	StateRunning

	// StateStopping - teardown in progress.
	StateStopping

	// StateStopped - everything destroyed.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// InitializationError reports the first fatal failure of Initialize.
// When it is returned the context has already been destroyed.
type InitializationError struct {
	// Stage names the step that failed.
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed during %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ConfigurationError reports that the protocol context could not be
// created.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("context creation failed: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
