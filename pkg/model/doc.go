// Package model implements the simulator's address-space node model.
//
// # Node Hierarchy
//
// The address space is a tree rooted at the standard Objects folder:
//
//	Objects (ns=0;i=85)
//	├── Flywheel RPM            (standalone Variable, Organizes)
//	├── Multimeter              (Device, Organizes)
//	│   ├── Voltage             (component Variable, HasComponent)
//	│   ├── Current
//	│   ├── Resistance
//	│   └── Power
//	└── ...
//
// A Device is a composite object node that exclusively owns an ordered
// list of Variables. A Variable knows its parent only by NodeID.
//
// # Context Access
//
// Nodes never own the protocol context. Each node holds a ContextRef, a
// weak handle into a ContextRegistry. Once the controller releases the
// handle, every node operation fails with ErrContextGone instead of
// touching a destroyed context.
//
// # Access Control
//
// Variables carry access flags (Read, Write). The flags are published
// with the node and enforced by the context on the client request path.
// Variable.Write is the server path and is always permitted.
package model
