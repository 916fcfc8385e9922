// Package service provides the lifecycle controller of the simulator
// server.
//
// The Server ties the lower-level components together: it creates the
// protocol context, allocates the instrument namespace, builds and
// registers the simulated devices and set-points, runs the service loop
// and tears everything down in a fixed order.
//
// # Lifecycle
//
//	Uninitialized → Initialized → Running → Stopping → Stopped
//
// Every node is destroyed before the context is stopped and destroyed;
// the service loop is joined before any node is destroyed.
//
// Example usage:
//
//	config := service.DefaultServerConfig()
//	srv, err := service.NewServer(config)
//	if err := srv.Initialize(ctx); err != nil { ... }
//	if err := srv.Start(ctx); err != nil { ... }
//	<-ctx.Done()
//	srv.Stop()
package service
