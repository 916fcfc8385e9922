package addrspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/transport"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

func newTestServer(t *testing.T) (*Server, uint16) {
	t.Helper()
	s, err := New(Config{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, s.ConfigureDefaults())
	ns, err := s.AddNamespace("urn:opcsim:test")
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s, ns
}

func publishMeter(t *testing.T, s *Server, ns uint16) {
	t.Helper()
	require.NoError(t, s.PublishObject(model.ObjectAttributes{
		ID:         model.NumericID(ns, 100),
		Parent:     model.ObjectsFolderID,
		Reference:  model.ReferenceOrganizes,
		BrowseName: "Multimeter",
	}))
	require.NoError(t, s.PublishVariable(model.VariableAttributes{
		ID:         model.NumericID(ns, 101),
		Parent:     model.NumericID(ns, 100),
		Reference:  model.ReferenceHasComponent,
		BrowseName: "Voltage",
		DataType:   model.DataTypeDouble,
		Access:     model.AccessReadOnly,
		Value:      model.Double(0),
	}))
	require.NoError(t, s.PublishVariable(model.VariableAttributes{
		ID:         model.NumericID(ns, 10),
		Parent:     model.ObjectsFolderID,
		Reference:  model.ReferenceOrganizes,
		BrowseName: "FlywheelRPM",
		DataType:   model.DataTypeDouble,
		Access:     model.AccessReadWrite,
		Value:      model.Double(1500),
	}))
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{QueueSize: -1})
	assert.Error(t, err)
	_, err = New(Config{Address: "no-port"})
	assert.Error(t, err)
}

func TestNamespaces(t *testing.T) {
	s, ns := newTestServer(t)
	assert.Equal(t, uint16(1), ns)

	again, err := s.AddNamespace("urn:opcsim:test")
	require.NoError(t, err)
	assert.Equal(t, ns, again)

	_, err = s.AddNamespace("")
	assert.Error(t, err)
	assert.Equal(t, []string{StandardNamespaceURI, "urn:opcsim:test"}, s.Namespaces())
}

func TestConfigureDefaultsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.ConfigureDefaults())
	assert.Equal(t, 2, s.NodeCount())

	refs, err := s.Browse(model.RootFolderID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, model.ObjectsFolderID, refs[0].Target)
}

func TestPublishErrors(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	tests := []struct {
		name  string
		attrs model.VariableAttributes
		want  error
	}{
		{"duplicate", model.VariableAttributes{
			ID: model.NumericID(ns, 101), Parent: model.ObjectsFolderID,
			DataType: model.DataTypeDouble, Value: model.Double(0),
		}, model.ErrDuplicateNode},
		{"missing parent", model.VariableAttributes{
			ID: model.NumericID(ns, 500), Parent: model.NumericID(ns, 499),
			DataType: model.DataTypeDouble, Value: model.Double(0),
		}, model.ErrParentNotFound},
		{"variable parent", model.VariableAttributes{
			ID: model.NumericID(ns, 501), Parent: model.NumericID(ns, 101),
			DataType: model.DataTypeDouble, Value: model.Double(0),
		}, model.ErrNodeClass},
		{"unknown namespace", model.VariableAttributes{
			ID: model.NumericID(9, 1), Parent: model.ObjectsFolderID,
			DataType: model.DataTypeDouble, Value: model.Double(0),
		}, model.ErrInvalidNodeID},
		{"null id", model.VariableAttributes{
			Parent: model.ObjectsFolderID, DataType: model.DataTypeDouble, Value: model.Double(0),
		}, model.ErrInvalidNodeID},
		{"mistyped initial", model.VariableAttributes{
			ID: model.NumericID(ns, 502), Parent: model.ObjectsFolderID,
			DataType: model.DataTypeDouble, Value: model.Boolean(true),
		}, model.ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.PublishVariable(tt.attrs), tt.want)
		})
	}
}

func TestServerPathIgnoresAccess(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	voltage := model.NumericID(ns, 101)
	require.NoError(t, s.WriteValue(voltage, model.Double(229.4)))
	got, err := s.ReadValue(voltage)
	require.NoError(t, err)
	assert.Equal(t, model.Double(229.4), got)

	assert.ErrorIs(t, s.WriteValue(voltage, model.String("x")), model.ErrTypeMismatch)
	assert.ErrorIs(t, s.WriteValue(model.NumericID(ns, 999), model.Double(1)), model.ErrNodeNotFound)
	assert.ErrorIs(t, s.WriteValue(model.NumericID(ns, 100), model.Double(1)), model.ErrNodeClass)
}

func TestClientWriteEnforcesAccess(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	assert.ErrorIs(t, s.ClientWrite(model.NumericID(ns, 101), model.Double(1)), model.ErrNotWritable)
	assert.ErrorIs(t, s.ClientWrite(model.NumericID(ns, 10), model.Int64(1)), model.ErrTypeMismatch)
	require.NoError(t, s.ClientWrite(model.NumericID(ns, 10), model.Double(1800)))

	got, _ := s.ReadValue(model.NumericID(ns, 10))
	assert.Equal(t, model.Double(1800), got)
}

func TestDeleteNodeRemovesSubtree(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)
	before := s.NodeCount()

	require.NoError(t, s.DeleteNode(model.NumericID(ns, 100)))
	assert.Equal(t, before-2, s.NodeCount())

	_, err := s.ReadValue(model.NumericID(ns, 101))
	assert.ErrorIs(t, err, model.ErrNodeNotFound)

	refs, err := s.Browse(model.ObjectsFolderID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "FlywheelRPM", refs[0].BrowseName)

	assert.ErrorIs(t, s.DeleteNode(model.NumericID(ns, 100)), model.ErrNodeNotFound)
}

func TestBrowseOrder(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	refs, err := s.Browse(model.ObjectsFolderID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, model.NumericID(ns, 100), refs[0].Target)
	assert.Equal(t, model.NodeClassObject, refs[0].Class)
	assert.Equal(t, model.ReferenceOrganizes, refs[1].Reference)

	refs, err = s.Browse(model.NumericID(ns, 100))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, model.ReferenceHasComponent, refs[0].Reference)
}

func TestDestroy(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	s.Destroy()
	s.Destroy()

	assert.ErrorIs(t, s.WriteValue(model.NumericID(ns, 101), model.Double(1)), model.ErrContextDestroyed)
	_, err := s.ReadValue(model.NumericID(ns, 101))
	assert.ErrorIs(t, err, model.ErrContextDestroyed)
	_, err = s.AddNamespace("urn:x")
	assert.ErrorIs(t, err, model.ErrContextDestroyed)
	assert.ErrorIs(t, s.StartService(context.Background()), model.ErrContextDestroyed)
	assert.Equal(t, 0, s.IterateOnce(false))

	resp := s.HandleRequest(wire.NewReadRequest(1, model.NumericID(ns, 101)))
	assert.Equal(t, wire.StatusBadShutdown, resp.Status)
}

func TestHandleRequest(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)

	t.Run("Read", func(t *testing.T) {
		resp := s.HandleRequest(wire.NewReadRequest(1, model.NumericID(ns, 10)))
		require.True(t, resp.IsGood())
		res, err := resp.ReadResult()
		require.NoError(t, err)
		assert.Equal(t, model.Double(1500), res.Value)
		assert.Equal(t, model.AccessReadWrite, res.Access)
	})

	t.Run("ReadUnknown", func(t *testing.T) {
		resp := s.HandleRequest(wire.NewReadRequest(2, model.NumericID(ns, 404)))
		assert.Equal(t, wire.StatusBadNodeIDUnknown, resp.Status)
		assert.NotEmpty(t, resp.ErrorMessage())
	})

	t.Run("WriteReadOnly", func(t *testing.T) {
		req, _ := wire.NewWriteRequest(3, model.NumericID(ns, 101), model.Double(1))
		assert.Equal(t, wire.StatusBadNotWritable, s.HandleRequest(req).Status)
	})

	t.Run("WriteWrongType", func(t *testing.T) {
		req, _ := wire.NewWriteRequest(4, model.NumericID(ns, 10), model.Boolean(true))
		assert.Equal(t, wire.StatusBadTypeMismatch, s.HandleRequest(req).Status)
	})

	t.Run("WriteMissingPayload", func(t *testing.T) {
		req := &wire.Request{MessageID: 5, Operation: wire.OpWrite, NodeID: model.NumericID(ns, 10)}
		assert.Equal(t, wire.StatusBadInvalidArgument, s.HandleRequest(req).Status)
	})

	t.Run("Unsupported", func(t *testing.T) {
		req := &wire.Request{MessageID: 6, Operation: wire.Operation(42)}
		assert.Equal(t, wire.StatusBadServiceUnsupported, s.HandleRequest(req).Status)
	})

	t.Run("BrowseVariable", func(t *testing.T) {
		resp := s.HandleRequest(wire.NewBrowseRequest(7, model.NumericID(ns, 101)))
		require.True(t, resp.IsGood())
		var res wire.BrowseResult
		require.NoError(t, resp.DecodePayload(&res))
		assert.Empty(t, res.References)
	})
}

type observed struct {
	op     wire.Operation
	status wire.Status
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observed
}

func (r *recordingObserver) ObserveRequest(op wire.Operation, status wire.Status, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observed{op, status})
}

func roundTrip(t *testing.T, s *Server, conn *transport.ClientConn, req *wire.Request) *wire.Response {
	t.Helper()
	data, err := wire.EncodeRequest(req)
	require.NoError(t, err)
	require.NoError(t, conn.Send(data))

	// Requests are served only from IterateOnce.
	require.Eventually(t, func() bool { return s.IterateOnce(false) > 0 }, 2*time.Second, 5*time.Millisecond)

	reply, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, resp.MessageID)
	return resp
}

func TestServiceOverTCP(t *testing.T) {
	obs := &recordingObserver{}
	s, err := New(Config{Address: "127.0.0.1:0", Observer: obs})
	require.NoError(t, err)
	defer s.Destroy()
	require.NoError(t, s.ConfigureDefaults())
	ns, _ := s.AddNamespace("urn:opcsim:test")
	publishMeter(t, s, ns)

	assert.Equal(t, 0, s.IterateOnce(false))
	require.NoError(t, s.StartService(context.Background()))
	assert.ErrorIs(t, s.StartService(context.Background()), ErrServiceRunning)

	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	write, _ := wire.NewWriteRequest(1, model.NumericID(ns, 10), model.Double(2000))
	assert.Equal(t, wire.StatusGood, roundTrip(t, s, conn, write).Status)

	resp := roundTrip(t, s, conn, wire.NewReadRequest(2, model.NumericID(ns, 10)))
	res, err := resp.ReadResult()
	require.NoError(t, err)
	assert.Equal(t, model.Double(2000), res.Value)

	resp = roundTrip(t, s, conn, wire.NewBrowseRequest(3, model.ObjectsFolderID))
	var browse wire.BrowseResult
	require.NoError(t, resp.DecodePayload(&browse))
	assert.Len(t, browse.References, 2)

	obs.mu.Lock()
	assert.Equal(t, []observed{
		{wire.OpWrite, wire.StatusGood},
		{wire.OpRead, wire.StatusGood},
		{wire.OpBrowse, wire.StatusGood},
	}, obs.obs)
	obs.mu.Unlock()

	s.StopService()
	s.StopService()
	assert.Nil(t, s.Addr())
	assert.Equal(t, 0, s.IterateOnce(true))
}

func TestServiceRejectsGarbage(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.StartService(context.Background()))

	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte{0xff}))
	reply, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusBadInvalidArgument, resp.Status)
}

func TestIterateOnceWaits(t *testing.T) {
	s, ns := newTestServer(t)
	publishMeter(t, s, ns)
	require.NoError(t, s.StartService(context.Background()))

	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan int, 1)
	go func() { done <- s.IterateOnce(true) }()

	data, _ := wire.EncodeRequest(wire.NewReadRequest(1, model.NumericID(ns, 101)))
	require.NoError(t, conn.Send(data))

	select {
	case n := <-done:
		assert.GreaterOrEqual(t, n, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("IterateOnce(true) did not return after a request arrived")
	}
}
