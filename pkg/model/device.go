package model

import (
	"sync"

	"go.uber.org/multierr"
)

// DeviceConfig describes a device object node.
type DeviceConfig struct {
	ID    NodeID
	Names Names
}

// Device is a composite object node that owns an ordered list of
// component variables. Children are added before Register and destroyed
// together with the device.
type Device struct {
	Node

	mu         sync.RWMutex
	children   []*Variable
	registered bool
	destroyed  bool
}

// NewDevice creates a device organized under the Objects folder.
func NewDevice(ref ContextRef, cfg DeviceConfig) *Device {
	return &Device{Node: newNode(ref, cfg.ID, cfg.Names)}
}

// AddVariable creates a component variable owned by the device.
func (d *Device) AddVariable(cfg VariableConfig) *Variable {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := newVariable(d.ref, d.id, ReferenceHasComponent, cfg)
	d.children = append(d.children, v)
	return v
}

// Children returns the component variables in declaration order.
func (d *Device) Children() []*Variable {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*Variable, len(d.children))
	copy(result, d.children)
	return result
}

// ChildCount returns the number of component variables.
func (d *Device) ChildCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// Registered reports whether the device is published.
func (d *Device) Registered() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registered
}

// Attributes returns the publish description of the device object.
func (d *Device) Attributes() ObjectAttributes {
	return ObjectAttributes{
		ID:             d.id,
		Parent:         ObjectsFolderID,
		Reference:      ReferenceOrganizes,
		BrowseName:     d.names.BrowseName,
		DisplayName:    d.names.DisplayName,
		Description:    d.names.Description,
		TypeDefinition: BaseObjectTypeID,
	}
}

// Register publishes the device object and then each child in
// declaration order. It stops at the first failing child and removes
// everything it published, so a failed Register leaves no trace of the
// device in the address space.
func (d *Device) Register() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fail := func(index int, err error) error {
		return &RegistrationError{NodeID: d.id, ChildIndex: index, Err: err}
	}

	if d.destroyed {
		return fail(-1, ErrNodeDestroyed)
	}
	if d.registered {
		return fail(-1, ErrAlreadyRegistered)
	}

	ctx, err := d.context()
	if err != nil {
		return fail(-1, err)
	}
	if err := ctx.PublishObject(d.Attributes()); err != nil {
		return fail(-1, err)
	}

	for i, child := range d.children {
		if err := child.Register(); err != nil {
			for j := i - 1; j >= 0; j-- {
				err = multierr.Append(err, d.children[j].unpublish())
			}
			err = multierr.Append(err, ctx.DeleteNode(d.id))
			return fail(i, err)
		}
	}

	d.registered = true
	return nil
}

// Destroy destroys every child in reverse declaration order and then
// releases the device's own context reference. Destroy is idempotent.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return
	}
	for i := len(d.children) - 1; i >= 0; i-- {
		d.children[i].Destroy()
	}
	d.destroyed = true
	d.registered = false
	d.detach()
}
