package model

import (
	"fmt"
	"sync"
)

// VariableConfig describes a variable node.
type VariableConfig struct {
	ID       NodeID
	Names    Names
	DataType DataType
	Access   Access

	// Initial is the value published on registration. A null Initial
	// publishes the zero value of DataType.
	Initial Variant
}

// Variable is a named, typed value node.
type Variable struct {
	Node

	mu         sync.RWMutex
	parent     NodeID
	reference  ReferenceKind
	dataType   DataType
	access     Access
	value      Variant
	registered bool
	destroyed  bool
}

// NewVariable creates a standalone variable, organized under the Objects
// folder.
func NewVariable(ref ContextRef, cfg VariableConfig) *Variable {
	return newVariable(ref, ObjectsFolderID, ReferenceOrganizes, cfg)
}

func newVariable(ref ContextRef, parent NodeID, kind ReferenceKind, cfg VariableConfig) *Variable {
	value := cfg.Initial
	if value.IsNull() {
		value = Zero(cfg.DataType)
	}
	return &Variable{
		Node:      newNode(ref, cfg.ID, cfg.Names),
		parent:    parent,
		reference: kind,
		dataType:  cfg.DataType,
		access:    cfg.Access,
		value:     value,
	}
}

// Parent returns the identifier of the parent node.
func (v *Variable) Parent() NodeID { return v.parent }

// Reference returns the reference kind linking the variable to its parent.
func (v *Variable) Reference() ReferenceKind { return v.reference }

// DataType returns the declared data type.
func (v *Variable) DataType() DataType { return v.dataType }

// Access returns the client access flags.
func (v *Variable) Access() Access { return v.access }

// Value returns the last value published by this node.
func (v *Variable) Value() Variant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Registered reports whether the variable is published.
func (v *Variable) Registered() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.registered
}

// Attributes returns the publish description of the variable.
func (v *Variable) Attributes() VariableAttributes {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.attributes()
}

func (v *Variable) attributes() VariableAttributes {
	return VariableAttributes{
		ID:             v.id,
		Parent:         v.parent,
		Reference:      v.reference,
		BrowseName:     v.names.BrowseName,
		DisplayName:    v.names.DisplayName,
		Description:    v.names.Description,
		TypeDefinition: BaseDataVariableTypeID,
		DataType:       v.dataType,
		Access:         v.access,
		Value:          v.value,
	}
}

// Register publishes the variable under its parent.
func (v *Variable) Register() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	fail := func(err error) error {
		return &RegistrationError{NodeID: v.id, ChildIndex: -1, Err: err}
	}

	if v.destroyed {
		return fail(ErrNodeDestroyed)
	}
	if v.registered {
		return fail(ErrAlreadyRegistered)
	}
	if v.value.Type != v.dataType || !v.value.Valid() {
		return fail(fmt.Errorf("%w: initial value %s for %s variable", ErrTypeMismatch, v.value, v.dataType))
	}

	ctx, err := v.context()
	if err != nil {
		return fail(err)
	}
	if err := ctx.PublishVariable(v.attributes()); err != nil {
		return fail(err)
	}
	v.registered = true
	return nil
}

// unpublish removes a registered variable from the context.
func (v *Variable) unpublish() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.registered {
		return nil
	}
	v.registered = false
	ctx, err := v.context()
	if err != nil {
		return err
	}
	return ctx.DeleteNode(v.id)
}

// Write pushes a value into the context. The value's tag must match the
// declared data type; on any failure the previous value is kept.
func (v *Variable) Write(value Variant) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return &WriteError{NodeID: v.id, Err: ErrNodeDestroyed}
	}
	if value.Type != v.dataType || !value.Valid() {
		return &WriteError{
			NodeID: v.id,
			Err:    fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, v.dataType, value.Type),
		}
	}

	ctx, err := v.context()
	if err != nil {
		return &WriteError{NodeID: v.id, Err: err}
	}
	if err := ctx.WriteValue(v.id, value); err != nil {
		return &WriteError{NodeID: v.id, Err: err}
	}
	v.value = value
	return nil
}

// WriteFloat writes a Double value.
func (v *Variable) WriteFloat(f float64) error {
	return v.Write(Double(f))
}

// Read fetches the value currently stored in the context, which differs
// from Value when a client has written the variable.
func (v *Variable) Read() (Variant, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return Variant{}, ErrNodeDestroyed
	}
	ctx, err := v.context()
	if err != nil {
		return Variant{}, err
	}
	value, err := ctx.ReadValue(v.id)
	if err != nil {
		return Variant{}, err
	}
	v.value = value
	return value, nil
}

// Destroy releases the variable's context reference. The published node
// is left to the context, which removes it on destruction. Destroy is
// idempotent.
func (v *Variable) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.destroyed = true
	v.registered = false
	v.detach()
}
