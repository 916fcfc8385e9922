package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/opcsim-go/pkg/addrspace"
	"github.com/mash-protocol/opcsim-go/pkg/devices"
	"github.com/mash-protocol/opcsim-go/pkg/discovery"
	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/metrics"
	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// Defaults.
const (
	DefaultNamespace      = "urn:opcsim:instruments"
	DefaultCycle          = 330 * time.Millisecond
	DefaultStatusInterval = 10
	DefaultInstanceName   = "opcsim"
)

// ContextFactory creates the protocol context.
type ContextFactory func(config addrspace.Config) (model.Context, error)

// DefaultContextFactory creates an in-memory address space served over
// TCP.
func DefaultContextFactory(config addrspace.Config) (model.Context, error) {
	return addrspace.New(config)
}

// SetpointConfig describes a standalone client-writable variable
// organized under the Objects folder. The simulator never writes it.
type SetpointConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Key         uint32  `yaml:"key"`
	Value       float64 `yaml:"value"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the address the protocol service listens on.
	Address string `yaml:"address"`

	// Namespace is the URI of the instrument namespace.
	Namespace string `yaml:"namespace"`

	// Cycle is the service loop period.
	Cycle time.Duration `yaml:"cycle"`

	// Seed seeds the random source (0 = random seed).
	Seed uint64 `yaml:"seed"`

	// StatusInterval is the number of ticks between status log lines
	// (0 disables them).
	StatusInterval int `yaml:"status_interval"`

	// MaxMessageSize is the maximum request frame size (0 = default).
	MaxMessageSize uint32 `yaml:"max_message_size,omitempty"`

	// Devices are built and updated in this order.
	Devices []devices.Config `yaml:"devices"`

	// Setpoints are the standalone client-writable variables.
	Setpoints []SetpointConfig `yaml:"setpoints"`

	// StateFile persists client-written set-points across restarts
	// (empty disables persistence).
	StateFile string `yaml:"state_file,omitempty"`

	// ProtocolLog is the path of the CBOR protocol capture file.
	ProtocolLog string `yaml:"protocol_log,omitempty"`

	// MetricsAddress serves Prometheus metrics when set.
	MetricsAddress string `yaml:"metrics_address,omitempty"`

	// Advertise announces the service over mDNS.
	Advertise bool `yaml:"advertise"`

	// InstanceName is the mDNS instance name prefix.
	InstanceName string `yaml:"instance_name,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Logger is the optional logger for operational output.
	// If nil, logging is disabled.
	Logger *slog.Logger `yaml:"-"`

	// ProtocolLogger receives protocol and lifecycle events (optional).
	ProtocolLogger log.Logger `yaml:"-"`

	// Metrics receives tick, request and state metrics (optional).
	Metrics *metrics.Metrics `yaml:"-"`

	// Advertiser announces the service when Advertise is set (optional).
	Advertiser discovery.Advertiser `yaml:"-"`

	// ContextFactory creates the protocol context
	// (default: DefaultContextFactory).
	ContextFactory ContextFactory `yaml:"-"`

	// Rand overrides the seeded random source (optional).
	Rand devices.Rand `yaml:"-"`
}

// DefaultServerConfig returns a ServerConfig with one device of each
// kind and a flywheel set-point.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":4840",
		Namespace:      DefaultNamespace,
		Cycle:          DefaultCycle,
		StatusInterval: DefaultStatusInterval,
		Devices: []devices.Config{
			{Kind: devices.KindMultimeter},
			{Kind: devices.KindMachine, BaseRPM: 1500},
			{Kind: devices.KindComputer},
		},
		Setpoints: []SetpointConfig{
			{Name: "FlywheelRPM", Description: "Flywheel speed (rpm), client writable", Key: 10, Value: 0},
		},
		InstanceName: DefaultInstanceName,
		LogLevel:     "info",
	}
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Address, err)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	if c.Cycle <= 0 {
		return fmt.Errorf("%w: cycle must be positive: %v", ErrInvalidConfig, c.Cycle)
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("%w: status interval must not be negative: %d", ErrInvalidConfig, c.StatusInterval)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	keys := make(map[uint32]string)
	claim := func(key uint32, owner string) error {
		if other, ok := keys[key]; ok {
			return fmt.Errorf("%w: key %d used by %s and %s", ErrInvalidConfig, key, other, owner)
		}
		keys[key] = owner
		return nil
	}
	for i, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: device %d: %v", ErrInvalidConfig, i, err)
		}
		d.Kind, _ = devices.ParseKind(string(d.Kind))
		d = d.WithDefaults()
		for k := 0; k <= d.Kind.ChildCount(); k++ {
			if err := claim(d.KeyBase+uint32(k), d.Name); err != nil {
				return err
			}
		}
	}
	for _, sp := range c.Setpoints {
		if sp.Name == "" {
			return fmt.Errorf("%w: set-point with key %d has no name", ErrInvalidConfig, sp.Key)
		}
		if sp.Key == 0 {
			return fmt.Errorf("%w: set-point %s has no key", ErrInvalidConfig, sp.Name)
		}
		if err := claim(sp.Key, sp.Name); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevel parses a log level name. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// LoadConfig reads a YAML configuration file on top of
// DefaultServerConfig. Unknown keys are rejected.
func LoadConfig(path string) (ServerConfig, error) {
	config := DefaultServerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return config, nil
}
