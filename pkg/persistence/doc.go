// Package persistence stores the client-writable set-points of the
// simulator so they survive a restart.
//
// The state is a small JSON file written on shutdown and read on
// startup. Simulator-driven readings are never persisted.
package persistence
