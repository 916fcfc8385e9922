package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/mash-protocol/opcsim-go/pkg/addrspace"
	"github.com/mash-protocol/opcsim-go/pkg/devices"
	"github.com/mash-protocol/opcsim-go/pkg/discovery"
	"github.com/mash-protocol/opcsim-go/pkg/engine"
	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/persistence"
)

// Server is the lifecycle controller. It owns the protocol context, the
// simulated devices and the standalone set-points.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	registry *model.ContextRegistry

	mu         sync.Mutex
	state      State
	protocol   model.Context
	ref        model.ContextRef
	ns         uint16
	devices    []devices.Simulated
	setpoints  []*model.Variable
	engine     *engine.Engine
	store      *persistence.SetpointStore
	started    bool
	advertised bool
	loopDone   chan struct{}

	// stepMu is held for every tick and for teardown. Lock order is
	// stepMu before mu.
	stepMu sync.Mutex

	// Set by RequestStop, read by the service loop.
	stopFlag atomic.Bool
	wake     chan struct{}
	wakeOnce sync.Once
}

// NewServer creates a server in the Uninitialized state.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ContextFactory == nil {
		config.ContextFactory = DefaultContextFactory
	}

	s := &Server{
		config:   config,
		logger:   config.Logger,
		registry: model.NewContextRegistry(),
		wake:     make(chan struct{}),
	}
	if config.StateFile != "" {
		s.store = persistence.NewSetpointStore(config.StateFile)
	}
	return s, nil
}

// Initialize creates the protocol context, allocates the instrument
// namespace and registers every device and set-point. On failure
// everything built so far is destroyed, including the context, and an
// *InitializationError is returned.
func (s *Server) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("%w: initialize in state %s", ErrInvalidState, s.state)
	}
	if err := ctx.Err(); err != nil {
		return &InitializationError{Stage: "create context", Err: err}
	}

	cfg := addrspace.Config{
		Address:        s.config.Address,
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.config.Logger,
		ProtocolLogger: s.config.ProtocolLogger,
	}
	if s.config.Metrics != nil {
		cfg.Observer = s.config.Metrics
	}
	protocol, err := s.config.ContextFactory(cfg)
	if err != nil {
		return &InitializationError{Stage: "create context", Err: &ConfigurationError{Err: err}}
	}
	s.protocol = protocol
	s.ref = s.registry.Add(protocol)

	fail := func(stage string, err error) error {
		if terr := s.teardown(); terr != nil {
			s.warnLog("teardown after failed initialization", "error", terr)
		}
		s.protocol, s.devices, s.setpoints = nil, nil, nil
		return &InitializationError{Stage: stage, Err: err}
	}

	if err := protocol.ConfigureDefaults(); err != nil {
		return fail("configure defaults", err)
	}
	ns, err := protocol.AddNamespace(s.config.Namespace)
	if err != nil {
		return fail("add namespace", err)
	}
	s.ns = ns

	rng := s.config.Rand
	if rng == nil {
		seed := s.config.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		s.debugLog("random source seeded", "seed", seed)
		rng = rand.New(rand.NewPCG(seed, seed))
	}

	for _, dc := range s.config.Devices {
		d, err := devices.New(s.ref, ns, dc, rng)
		if err != nil {
			return fail("build device "+dc.Name, err)
		}
		s.devices = append(s.devices, d)
	}
	for _, sp := range s.config.Setpoints {
		s.setpoints = append(s.setpoints, model.NewVariable(s.ref, model.VariableConfig{
			ID: model.NumericID(ns, sp.Key),
			Names: model.Names{
				BrowseName:  sp.Name,
				Description: sp.Description,
			},
			DataType: model.DataTypeDouble,
			Access:   model.AccessReadWrite,
			Initial:  model.Double(sp.Value),
		}))
	}

	for _, d := range s.devices {
		if err := d.Node().Register(); err != nil {
			return fail("register "+d.Name(), err)
		}
	}
	for _, v := range s.setpoints {
		if err := v.Register(); err != nil {
			return fail("register "+v.BrowseName(), err)
		}
	}

	s.restoreSetpoints()

	simulated := make([]engine.Device, len(s.devices))
	for i, d := range s.devices {
		simulated[i] = d
	}
	ecfg := engine.Config{Logger: s.logger}
	if s.config.Metrics != nil {
		ecfg.Observer = s.config.Metrics
	}
	s.engine = engine.New(simulated, ecfg)

	s.logBanner()
	s.setState(StateInitialized, "")
	return nil
}

// Start starts the protocol service and the service loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, s.state)
	}
	if err := s.protocol.StartService(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	s.started = true

	addr := s.listenAddr()
	if s.logger != nil && addr != nil {
		s.logger.Info("server listening", "address", addr.String(), "cycle", s.config.Cycle)
	}
	s.advertise(ctx, addr)

	s.setState(StateRunning, "")
	s.loopDone = make(chan struct{})
	go s.loop(s.loopDone)
	return nil
}

// loop alternates device updates and request processing until the stop
// flag is set.
func (s *Server) loop(done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Cycle)
	defer ticker.Stop()

	for !s.stopFlag.Load() {
		s.stepMu.Lock()
		_ = s.step()
		s.stepMu.Unlock()
		select {
		case <-ticker.C:
		case <-s.wake:
		}
	}
	s.debugLog("service loop exited", "ticks", s.engine.Ticks())
}

// Step runs one cycle by hand: a simulation tick followed by a
// non-blocking pass over pending client requests. It is only valid
// while the server is Initialized; once started, the service loop is
// the only caller of the cycle. It returns the tick's aggregate device
// error.
func (s *Server) Step() error {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	if st := s.State(); st != StateInitialized {
		return fmt.Errorf("%w: step in state %s", ErrInvalidState, st)
	}
	return s.step()
}

// step runs one cycle. The caller holds stepMu.
func (s *Server) step() error {
	err := s.engine.Tick()
	s.protocol.IterateOnce(false)

	if n := s.config.StatusInterval; n > 0 && s.engine.Ticks()%uint64(n) == 0 {
		s.logStatus()
	}
	return err
}

// RequestStop asks the service loop to exit. It is safe to call from a
// signal handler goroutine and more than once.
func (s *Server) RequestStop() {
	s.stopFlag.Store(true)
	s.wakeOnce.Do(func() { close(s.wake) })
}

// StopRequested reports whether RequestStop has been called.
func (s *Server) StopRequested() bool { return s.stopFlag.Load() }

// Done returns a channel closed once the service loop has exited. It is
// nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopDone
}

// Stop joins the service loop and tears everything down: set-points and
// devices in reverse order, then the protocol service and context.
// Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopping, StateStopped:
		s.mu.Unlock()
		return nil
	case StateUninitialized:
		s.setState(StateStopped, "never initialized")
		s.mu.Unlock()
		return nil
	}
	s.setState(StateStopping, "")
	loopDone := s.loopDone
	s.mu.Unlock()

	s.RequestStop()
	if loopDone != nil {
		<-loopDone
	}

	// Waits out a Step that passed its state check before Stopping.
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.saveSetpoints()
	err = multierr.Append(err, s.teardown())
	s.setState(StateStopped, "")
	return err
}

// teardown destroys every node before stopping and destroying the
// context, then releases the context handle.
func (s *Server) teardown() error {
	var err error
	if s.advertised {
		err = multierr.Append(err, s.config.Advertiser.Stop())
		s.advertised = false
	}

	for i := len(s.setpoints) - 1; i >= 0; i-- {
		s.setpoints[i].Destroy()
	}
	for i := len(s.devices) - 1; i >= 0; i-- {
		s.devices[i].Node().Destroy()
	}

	if s.started {
		s.protocol.StopService()
		s.started = false
	}
	s.protocol.Destroy()
	s.ref.Release()
	s.debugLog("protocol context destroyed", "devices", len(s.devices), "setpoints", len(s.setpoints))
	return err
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the simulated devices in update order.
func (s *Server) Devices() []devices.Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]devices.Simulated(nil), s.devices...)
}

// Setpoints returns the standalone set-point variables.
func (s *Server) Setpoints() []*model.Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Variable(nil), s.setpoints...)
}

// NamespaceIndex returns the index of the instrument namespace.
func (s *Server) NamespaceIndex() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ns
}

// Ticks returns the number of simulation ticks run so far.
func (s *Server) Ticks() uint64 {
	s.mu.Lock()
	e := s.engine
	s.mu.Unlock()
	if e == nil {
		return 0
	}
	return e.Ticks()
}

// writable returns every client-writable variable: the set-points
// followed by writable device children.
func (s *Server) writable() []*model.Variable {
	vars := append([]*model.Variable(nil), s.setpoints...)
	for _, d := range s.devices {
		for _, v := range d.Node().Children() {
			if v.Access().CanWrite() {
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// restoreSetpoints writes saved client values over the configured
// initial values. Failures are logged; they never fail initialization.
func (s *Server) restoreSetpoints() {
	if s.store == nil {
		return
	}
	state, err := s.store.Load()
	if err != nil {
		s.warnLog("loading set-points failed", "path", s.store.Path(), "error", err)
		return
	}
	if state == nil {
		return
	}
	if state.Namespace != s.config.Namespace {
		s.warnLog("ignoring set-points of another namespace", "namespace", state.Namespace)
		return
	}
	values, err := state.Values()
	if err != nil {
		s.warnLog("skipping invalid set-points", "error", err)
	}

	restored := 0
	for _, v := range s.writable() {
		value, ok := values[v.ID()]
		if !ok {
			continue
		}
		if err := v.Write(value); err != nil {
			s.warnLog("restoring set-point failed", "node", v.ID().String(), "error", err)
			continue
		}
		restored++
	}
	s.debugLog("set-points restored", "path", s.store.Path(), "count", restored)
}

// saveSetpoints reads the client-writable variables back from the
// context and persists them.
func (s *Server) saveSetpoints() error {
	if s.store == nil {
		return nil
	}
	state := &persistence.SetpointState{Namespace: s.config.Namespace}
	var err error
	for _, v := range s.writable() {
		value, rerr := v.Read()
		if rerr != nil {
			err = multierr.Append(err, fmt.Errorf("read %s: %w", v.ID(), rerr))
			continue
		}
		state.Setpoints = append(state.Setpoints, persistence.Setpoint{
			NodeID:     v.ID().String(),
			BrowseName: v.BrowseName(),
			Value:      value,
		})
	}
	if serr := s.store.Save(state); serr != nil {
		return multierr.Append(err, fmt.Errorf("save set-points: %w", serr))
	}
	return err
}

// Addr returns the protocol listen address while the server runs, or
// nil when the context does not expose one.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	return s.listenAddr()
}

func (s *Server) listenAddr() net.Addr {
	a, ok := s.protocol.(interface{ Addr() net.Addr })
	if !ok {
		return nil
	}
	return a.Addr()
}

// advertise announces the service over DNS-SD. A failed announcement is
// logged and the server keeps running.
func (s *Server) advertise(ctx context.Context, addr net.Addr) {
	if !s.config.Advertise || s.config.Advertiser == nil {
		return
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		s.warnLog("not advertising: no TCP listen address")
		return
	}

	host, _ := os.Hostname()
	info := &discovery.ServiceInfo{
		InstanceName:   discovery.InstanceName(s.config.InstanceName, host),
		Port:           uint16(tcp.Port),
		Path:           "/",
		Namespace:      s.config.Namespace,
		NamespaceIndex: s.ns,
	}
	if err := s.config.Advertiser.Advertise(ctx, info); err != nil {
		s.warnLog("advertising failed", "instance", info.InstanceName, "error", err)
		return
	}
	s.advertised = true
	s.debugLog("advertising", "instance", info.InstanceName, "port", info.Port)
}

// setState must be called with mu held.
func (s *Server) setState(state State, reason string) {
	old := s.state
	s.state = state

	if s.config.Metrics != nil {
		s.config.Metrics.SetState(int(state))
	}
	if s.config.ProtocolLogger != nil {
		s.config.ProtocolLogger.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerService,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityServer,
				OldState: old.String(),
				NewState: state.String(),
				Reason:   reason,
			},
		})
	}
	s.debugLog("server state changed", "from", old.String(), "to", state.String())
}

func (s *Server) logBanner() {
	if s.logger == nil {
		return
	}
	s.logger.Info("server initialized",
		"namespace", s.config.Namespace,
		"namespaceIndex", s.ns,
		"devices", len(s.devices),
		"setpoints", len(s.setpoints))
	for _, d := range s.devices {
		for _, v := range d.Node().Children() {
			s.logger.Info("variable",
				"device", d.Name(),
				"name", v.BrowseName(),
				"node", v.ID().String(),
				"writable", v.Access().CanWrite())
		}
	}
	for _, v := range s.setpoints {
		s.logger.Info("variable", "name", v.BrowseName(), "node", v.ID().String(), "writable", true)
	}
}

// logStatus writes the latest readings of every device as one line.
func (s *Server) logStatus() {
	if s.logger == nil {
		return
	}
	args := []any{"tick", s.engine.Ticks()}
	for _, d := range s.devices {
		children := d.Node().Children()
		readings := make([]any, 0, 2*len(children))
		for _, v := range children {
			f, _ := v.Value().Float64()
			readings = append(readings, v.BrowseName(), f)
		}
		args = append(args, slog.Group(d.Name(), readings...))
	}
	s.logger.Info("status", args...)
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
