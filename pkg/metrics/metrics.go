// Package metrics exposes simulator and address-space service counters
// in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

const namespace = "opcsim"

// Metrics holds every simulator metric.
type Metrics struct {
	registry *prometheus.Registry

	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	UpdateFailures *prometheus.CounterVec
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	State          prometheus.Gauge
}

// New creates the metrics on a private registry. With runtime true the
// Go and process collectors are registered too.
func New(runtime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of simulation ticks",
		}),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one simulation tick in seconds",
			Buckets:   []float64{.00001, .0001, .001, .01, .1},
		}),

		UpdateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "device_update_failures_total",
			Help:      "Total number of failed device updates",
		}, []string{"device"}),

		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "requests_total",
			Help:      "Total number of served client requests",
		}, []string{"operation", "status"}),

		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "request_duration_seconds",
			Help:      "Time from request arrival to response in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "state",
			Help:      "Server state (0=uninitialized, 1=initialized, 2=running, 3=stopping, 4=stopped)",
		}),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.UpdateFailures,
		m.Requests,
		m.RequestLatency,
		m.State,
	)
	if runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveTick records one simulation tick.
func (m *Metrics) ObserveTick(elapsed time.Duration, failed []string) {
	m.Ticks.Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	for _, name := range failed {
		m.UpdateFailures.WithLabelValues(name).Inc()
	}
}

// ObserveRequest records one served client request.
func (m *Metrics) ObserveRequest(op wire.Operation, status wire.Status, elapsed time.Duration) {
	m.Requests.WithLabelValues(op.String(), status.String()).Inc()
	m.RequestLatency.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// SetState records the lifecycle state.
func (m *Metrics) SetState(state int) {
	m.State.Set(float64(state))
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Server serves /metrics and /health over HTTP.
type Server struct {
	address string
	metrics *Metrics

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server for address (host:port).
func NewServer(address string, m *Metrics) *Server {
	return &Server{address: address, metrics: m}
}

// Start binds the listener. Requests are served by Serve.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = ln
	return nil
}

// Serve serves requests until ctx is done or Stop is called, and returns
// nil in either case. Any other serve failure is returned.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.server, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("metrics server not started")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}

// Addr returns the bound address while running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the server. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	s.listener = nil
	return err
}
