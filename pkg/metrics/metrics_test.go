package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserve(t *testing.T) {
	m := New(false)

	m.ObserveTick(time.Millisecond, nil)
	m.ObserveTick(2*time.Millisecond, []string{"Machine"})
	m.ObserveRequest(wire.OpRead, wire.StatusGood, time.Millisecond)
	m.ObserveRequest(wire.OpWrite, wire.StatusBadNotWritable, time.Millisecond)
	m.SetState(2)

	body := scrape(t, m.Handler())
	assert.Contains(t, body, "opcsim_engine_ticks_total 2")
	assert.Contains(t, body, `opcsim_engine_device_update_failures_total{device="Machine"} 1`)
	assert.Contains(t, body, `opcsim_service_requests_total{operation="Read",status="Good"} 1`)
	assert.Contains(t, body, `opcsim_service_requests_total{operation="Write",status="BadNotWritable"} 1`)
	assert.Contains(t, body, "opcsim_server_state 2")
	assert.Contains(t, body, "opcsim_engine_tick_duration_seconds_count 2")
}

func TestServer(t *testing.T) {
	m := New(true)
	srv := NewServer("127.0.0.1:0", m)
	assert.Error(t, srv.Serve(context.Background()), "serve before start")
	require.NoError(t, srv.Start())
	defer srv.Stop()
	assert.Error(t, srv.Start())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, srv.Stop())
	assert.NoError(t, <-served)
	assert.NoError(t, srv.Stop())
	assert.Nil(t, srv.Addr())
}

func TestServerServeUntilCancelled(t *testing.T) {
	srv := NewServer("127.0.0.1:0", New(false))
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Nil(t, srv.Addr())
}
