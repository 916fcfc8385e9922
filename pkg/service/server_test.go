package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/opcsim-go/pkg/addrspace"
	"github.com/mash-protocol/opcsim-go/pkg/devices"
	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/metrics"
	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/model/modeltest"
)

func mockFactory(m *modeltest.MockContext) ContextFactory {
	return func(addrspace.Config) (model.Context, error) { return m, nil }
}

// addrspaceFactory creates a real address space and hands it to the
// test.
func addrspaceFactory(out **addrspace.Server) ContextFactory {
	return func(cfg addrspace.Config) (model.Context, error) {
		s, err := addrspace.New(cfg)
		if err != nil {
			return nil, err
		}
		*out = s
		return s, nil
	}
}

func testConfig(factory ContextFactory) ServerConfig {
	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	config.Cycle = 5 * time.Millisecond
	config.Seed = 7
	config.StatusInterval = 0
	config.ContextFactory = factory
	return config
}

func newTestServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	srv, err := NewServer(config)
	require.NoError(t, err)
	return srv
}

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) serverStates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []string
	for _, e := range r.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityServer {
			states = append(states, e.StateChange.NewState)
		}
	}
	return states
}

func TestServerInitialize(t *testing.T) {
	ctxMock := new(modeltest.MockContext)
	ctxMock.AllowAll()

	srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
	require.NoError(t, srv.Initialize(context.Background()))

	assert.Equal(t, StateInitialized, srv.State())
	assert.Equal(t, uint16(1), srv.NamespaceIndex())
	assert.Equal(t, 1, srv.registry.Len())

	devs := srv.Devices()
	require.Len(t, devs, 3)
	assert.Equal(t, devices.KindMultimeter, devs[0].Kind())
	assert.Equal(t, devices.KindMachine, devs[1].Kind())
	assert.Equal(t, devices.KindComputer, devs[2].Kind())
	for _, d := range devs {
		assert.True(t, d.Node().Registered(), d.Name())
	}

	sps := srv.Setpoints()
	require.Len(t, sps, 1)
	assert.Equal(t, model.NumericID(1, 10), sps[0].ID())
	assert.True(t, sps[0].Registered())
	assert.True(t, sps[0].Access().CanWrite())

	// Configure, namespace, then every node in declaration order.
	names := ctxMock.CallNames()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{"ConfigureDefaults", "AddNamespace"}, names[:2])
	ids := ctxMock.PublishedIDs()
	assert.Equal(t, model.NumericID(1, 100), ids[0])
	assert.Equal(t, model.NumericID(1, 10), ids[len(ids)-1])

	err := srv.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestServerInitializeFailure(t *testing.T) {
	t.Run("ContextCreation", func(t *testing.T) {
		factory := func(addrspace.Config) (model.Context, error) {
			return nil, errors.New("no memory")
		}
		srv := newTestServer(t, testConfig(factory))

		err := srv.Initialize(context.Background())

		var initErr *InitializationError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, "create context", initErr.Stage)
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, StateUninitialized, srv.State())
		assert.Equal(t, 0, srv.registry.Len())
	})

	t.Run("Namespace", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.On("AddNamespace", mock.Anything).Return(uint16(0), errors.New("table full"))
		ctxMock.AllowAll()

		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
		err := srv.Initialize(context.Background())

		var initErr *InitializationError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, "add namespace", initErr.Stage)
		assert.Equal(t, 1, ctxMock.CallCount("Destroy"))
		assert.Equal(t, 0, ctxMock.CallCount("PublishObject"))
	})

	t.Run("DeviceRegistration", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.On("PublishVariable", mock.MatchedBy(func(a model.VariableAttributes) bool {
			return a.ID == model.NumericID(1, 103)
		})).Return(errors.New("out of nodes"))
		ctxMock.AllowAll()

		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
		err := srv.Initialize(context.Background())

		var initErr *InitializationError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, "register "+devices.KindMultimeter.DefaultName(), initErr.Stage)
		var regErr *model.RegistrationError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, 2, regErr.ChildIndex)

		// The partial device is rolled back, then the context goes.
		assert.Equal(t, []model.NodeID{
			model.NumericID(1, 102),
			model.NumericID(1, 101),
			model.NumericID(1, 100),
		}, ctxMock.DeletedIDs())
		assert.Equal(t, 1, ctxMock.CallCount("Destroy"))
		assert.Equal(t, 0, ctxMock.CallCount("StopService"))
		assert.Equal(t, "Destroy", ctxMock.CallNames()[len(ctxMock.Calls)-1])
		assert.Equal(t, StateUninitialized, srv.State())
		assert.Equal(t, 0, srv.registry.Len())
		assert.Empty(t, srv.Devices())
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.AllowAll()
		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := srv.Initialize(ctx)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, ctxMock.Calls)
	})
}

func TestServerTeardownOrder(t *testing.T) {
	ctxMock := new(modeltest.MockContext)
	var (
		devs []devices.Simulated
		sps  []*model.Variable
	)
	nodesGone := func(mock.Arguments) {
		for _, d := range devs {
			assert.False(t, d.Node().Registered(), "%s still registered", d.Name())
		}
		for _, v := range sps {
			assert.False(t, v.Registered(), "%s still registered", v.BrowseName())
		}
	}
	ctxMock.On("StopService").Run(nodesGone).Return()
	ctxMock.On("Destroy").Run(nodesGone).Return()
	ctxMock.AllowAll()

	srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
	require.NoError(t, srv.Initialize(context.Background()))
	devs, sps = srv.Devices(), srv.Setpoints()

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, StateRunning, srv.State())
	require.Eventually(t, func() bool { return srv.Ticks() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())

	names := ctxMock.CallNames()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{"StopService", "Destroy"}, names[len(names)-2:])

	// The loop is joined before teardown: no iteration after StopService.
	lastIterate := -1
	for i, n := range names {
		if n == "IterateOnce" {
			lastIterate = i
		}
	}
	assert.Less(t, lastIterate, len(names)-2)
	assert.Equal(t, 0, srv.registry.Len())

	_, err := devs[0].Node().Children()[0].Read()
	assert.ErrorIs(t, err, model.ErrNodeDestroyed)
}

func TestServerStopIdempotent(t *testing.T) {
	t.Run("Running", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.AllowAll()
		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
		require.NoError(t, srv.Initialize(context.Background()))
		require.NoError(t, srv.Start(context.Background()))

		require.NoError(t, srv.Stop())
		require.NoError(t, srv.Stop())
		require.NoError(t, srv.Stop())

		assert.Equal(t, 1, ctxMock.CallCount("StopService"))
		assert.Equal(t, 1, ctxMock.CallCount("Destroy"))
		assert.Equal(t, StateStopped, srv.State())
	})

	t.Run("InitializedOnly", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.AllowAll()
		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
		require.NoError(t, srv.Initialize(context.Background()))

		require.NoError(t, srv.Stop())
		require.NoError(t, srv.Stop())

		assert.Equal(t, 0, ctxMock.CallCount("StopService"))
		assert.Equal(t, 1, ctxMock.CallCount("Destroy"))
	})

	t.Run("NeverInitialized", func(t *testing.T) {
		ctxMock := new(modeltest.MockContext)
		ctxMock.AllowAll()
		srv := newTestServer(t, testConfig(mockFactory(ctxMock)))

		require.NoError(t, srv.Stop())

		assert.Equal(t, StateStopped, srv.State())
		assert.Empty(t, ctxMock.Calls)
		assert.ErrorIs(t, srv.Initialize(context.Background()), ErrInvalidState)
	})
}

func TestServerStartInvalidState(t *testing.T) {
	ctxMock := new(modeltest.MockContext)
	ctxMock.AllowAll()
	srv := newTestServer(t, testConfig(mockFactory(ctxMock)))

	assert.ErrorIs(t, srv.Start(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, srv.Step(), ErrInvalidState)

	require.NoError(t, srv.Initialize(context.Background()))
	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, srv.Step(), ErrInvalidState)

	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Step(), ErrInvalidState)
}

func TestServerStepWhileRunning(t *testing.T) {
	var as *addrspace.Server
	srv := newTestServer(t, testConfig(addrspaceFactory(&as)))
	require.NoError(t, srv.Initialize(context.Background()))
	require.NoError(t, srv.Start(context.Background()))

	// Only the service loop ticks once started.
	for range 50 {
		assert.ErrorIs(t, srv.Step(), ErrInvalidState)
	}
	require.Eventually(t, func() bool { return srv.Ticks() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, srv.Stop())
}

func TestServerStepRacingStop(t *testing.T) {
	var as *addrspace.Server
	srv := newTestServer(t, testConfig(addrspaceFactory(&as)))
	require.NoError(t, srv.Initialize(context.Background()))
	devs := srv.Devices()

	results := make(chan error, 1)
	go func() {
		for {
			if err := srv.Step(); err != nil {
				results <- err
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return srv.Ticks() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, srv.Stop())

	assert.ErrorIs(t, <-results, ErrInvalidState)
	for _, d := range devs {
		assert.False(t, d.Node().Registered(), "%s still registered", d.Name())
	}
}

func TestServerStartServiceFailure(t *testing.T) {
	ctxMock := new(modeltest.MockContext)
	ctxMock.On("StartService", mock.Anything).Return(errors.New("address in use"))
	ctxMock.AllowAll()
	srv := newTestServer(t, testConfig(mockFactory(ctxMock)))
	require.NoError(t, srv.Initialize(context.Background()))

	err := srv.Start(context.Background())

	assert.Error(t, err)
	assert.Equal(t, StateInitialized, srv.State())
	require.NoError(t, srv.Stop())
	assert.Equal(t, 0, ctxMock.CallCount("StopService"))
	assert.Equal(t, 1, ctxMock.CallCount("Destroy"))
}

func TestServerRequestStop(t *testing.T) {
	var as *addrspace.Server
	srv := newTestServer(t, testConfig(addrspaceFactory(&as)))
	require.NoError(t, srv.Initialize(context.Background()))
	assert.Nil(t, srv.Done())
	require.NoError(t, srv.Start(context.Background()))
	require.NotNil(t, as.Addr())

	require.Eventually(t, func() bool { return srv.Ticks() >= 3 }, time.Second, time.Millisecond)

	srv.RequestStop()
	srv.RequestStop()
	assert.True(t, srv.StopRequested())
	select {
	case <-srv.Done():
	case <-time.After(time.Second):
		t.Fatal("service loop did not exit after RequestStop")
	}

	// Flagged but not yet torn down.
	assert.Equal(t, StateRunning, srv.State())
	require.NoError(t, srv.Stop())
	assert.Nil(t, as.Addr())
	_, err := as.ReadValue(model.NumericID(1, 101))
	assert.ErrorIs(t, err, model.ErrContextDestroyed)
}

// Runs one multimeter against a real address space for five ticks and
// checks every reading through the context.
func TestServerMultimeterEndToEnd(t *testing.T) {
	run := func(t *testing.T) [][4]float64 {
		var as *addrspace.Server
		config := testConfig(addrspaceFactory(&as))
		config.Seed = 20240601
		config.Devices = []devices.Config{{Kind: devices.KindMultimeter}}
		config.Setpoints = nil

		srv := newTestServer(t, config)
		require.NoError(t, srv.Initialize(context.Background()))

		read := func(key uint32) float64 {
			v, err := as.ReadValue(model.NumericID(srv.NamespaceIndex(), key))
			require.NoError(t, err)
			f, ok := v.Float64()
			require.True(t, ok)
			return f
		}

		var out [][4]float64
		for i := 0; i < 5; i++ {
			require.NoError(t, srv.Step())

			voltage, current, resistance, power := read(101), read(102), read(103), read(104)
			assert.GreaterOrEqual(t, voltage, devices.MinVoltage)
			assert.LessOrEqual(t, voltage, devices.MaxVoltage)
			assert.GreaterOrEqual(t, current, devices.MinCurrent)
			assert.LessOrEqual(t, current, devices.MaxCurrent)
			assert.Equal(t, voltage*current, power)
			assert.Equal(t, voltage/current, resistance)
			out = append(out, [4]float64{voltage, current, resistance, power})
		}
		assert.Equal(t, uint64(5), srv.Ticks())

		require.NoError(t, srv.Stop())
		_, err := as.ReadValue(model.NumericID(1, 101))
		assert.ErrorIs(t, err, model.ErrContextDestroyed)
		return out
	}

	first := run(t)
	second := run(t)
	assert.Equal(t, first, second, "same seed must give the same readings")
	assert.NotEqual(t, first[0], first[1])
}

func TestServerSetpointPersistence(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state", "setpoints.json")
	flywheel := model.NumericID(1, 10)
	target := model.NumericID(1, 205)

	var as *addrspace.Server
	config := testConfig(addrspaceFactory(&as))
	config.StateFile = stateFile

	srv := newTestServer(t, config)
	require.NoError(t, srv.Initialize(context.Background()))
	require.NoError(t, as.ClientWrite(flywheel, model.Double(1234.5)))
	require.NoError(t, as.ClientWrite(target, model.Double(900)))
	require.NoError(t, srv.Step())

	// The simulator never writes the set-point.
	v, err := as.ReadValue(flywheel)
	require.NoError(t, err)
	assert.Equal(t, model.Double(1234.5), v)

	require.NoError(t, srv.Stop())
	assert.FileExists(t, stateFile)

	restarted := newTestServer(t, config)
	require.NoError(t, restarted.Initialize(context.Background()))
	defer restarted.Stop()

	v, err = as.ReadValue(flywheel)
	require.NoError(t, err)
	assert.Equal(t, model.Double(1234.5), v)
	v, err = as.ReadValue(target)
	require.NoError(t, err)
	assert.Equal(t, model.Double(900), v)

	require.NoError(t, restarted.Step())
	for _, d := range restarted.Devices() {
		if m, ok := d.(*devices.Machine); ok {
			assert.Equal(t, 900.0, m.BaseRPM())
		}
	}
}

func TestServerProtocolLogAndMetrics(t *testing.T) {
	ctxMock := new(modeltest.MockContext)
	ctxMock.AllowAll()
	rec := &recordingLogger{}
	m := metrics.New(false)

	config := testConfig(mockFactory(ctxMock))
	config.ProtocolLogger = rec
	config.Metrics = m
	srv := newTestServer(t, config)

	require.NoError(t, srv.Initialize(context.Background()))
	require.NoError(t, srv.Step())
	assert.Equal(t, float64(StateInitialized), gaugeValue(t, m, "opcsim_server_state"))

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())

	assert.Equal(t, []string{"INITIALIZED", "RUNNING", "STOPPING", "STOPPED"}, rec.serverStates())
	assert.Equal(t, float64(StateStopped), gaugeValue(t, m, "opcsim_server_state"))
}

func gaugeValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.NotEmpty(t, f.GetMetric())
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
