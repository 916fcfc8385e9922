package devices

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// Kind identifies a simulated device type.
type Kind string

const (
	KindMultimeter Kind = "multimeter"
	KindMachine    Kind = "machine"
	KindComputer   Kind = "computer"
)

// Kinds lists every supported device kind.
var Kinds = []Kind{KindMultimeter, KindMachine, KindComputer}

// ParseKind parses a device kind name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindMultimeter, KindMachine, KindComputer:
		return k, nil
	default:
		return "", fmt.Errorf("unknown device kind: %q", s)
	}
}

// DefaultKeyBase returns the numeric key of the device object when none
// is configured. Child keys follow at KeyBase+1, KeyBase+2, ...
func (k Kind) DefaultKeyBase() uint32 {
	switch k {
	case KindMultimeter:
		return 100
	case KindMachine:
		return 200
	case KindComputer:
		return 300
	default:
		return 0
	}
}

// ChildCount returns the number of variables a device of this kind
// owns, and so the keys it takes after KeyBase.
func (k Kind) ChildCount() int {
	switch k {
	case KindMultimeter:
		return 4
	case KindMachine:
		return 5
	case KindComputer:
		return 6
	default:
		return 0
	}
}

// DefaultName returns the browse name used when none is configured.
func (k Kind) DefaultName() string {
	switch k {
	case KindMultimeter:
		return "Multimeter"
	case KindMachine:
		return "Machine"
	case KindComputer:
		return "Computer"
	default:
		return string(k)
	}
}

// Rand is the random source a device draws its readings from.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

// Simulated is a device whose readings change on every tick.
type Simulated interface {
	Name() string
	Kind() Kind

	// Node returns the composite address-space node.
	Node() *model.Device

	// UpdateValues computes new readings and writes them into the
	// device's own variables.
	UpdateValues() error
}

// Config describes one simulated device.
type Config struct {
	Kind        Kind   `yaml:"kind"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	// KeyBase is the numeric key of the device object (default depends
	// on the kind).
	KeyBase uint32 `yaml:"key_base,omitempty"`

	// BaseRPM is the initial flywheel set-point of a machine.
	BaseRPM float64 `yaml:"base_rpm,omitempty"`
}

// WithDefaults fills in the name and key base.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = c.Kind.DefaultName()
	}
	if c.KeyBase == 0 {
		c.KeyBase = c.Kind.DefaultKeyBase()
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.BaseRPM < 0 {
		return fmt.Errorf("%s: base rpm must not be negative: %v", c.Name, c.BaseRPM)
	}
	return nil
}

// New constructs the device and its child variables. Nothing is
// published until the returned device's Node is registered.
func New(ref model.ContextRef, ns uint16, cfg Config, rng Rand) (Simulated, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Kind, _ = ParseKind(string(cfg.Kind))
	cfg = cfg.WithDefaults()

	b := &builder{
		ns:   ns,
		base: cfg.KeyBase,
		dev: model.NewDevice(ref, model.DeviceConfig{
			ID: model.NumericID(ns, cfg.KeyBase),
			Names: model.Names{
				BrowseName:  cfg.Name,
				Description: cfg.Description,
			},
		}),
	}

	switch cfg.Kind {
	case KindMultimeter:
		return newMultimeter(b, rng), nil
	case KindMachine:
		return newMachine(b, cfg.BaseRPM, rng), nil
	case KindComputer:
		return newComputer(b, rng), nil
	default:
		return nil, fmt.Errorf("unknown device kind: %q", cfg.Kind)
	}
}

// builder allocates child keys in declaration order.
type builder struct {
	ns   uint16
	base uint32
	next uint32
	dev  *model.Device
}

func (b *builder) double(name, description string, access model.Access, initial float64) *model.Variable {
	b.next++
	return b.dev.AddVariable(model.VariableConfig{
		ID:       model.NumericID(b.ns, b.base+b.next),
		Names:    model.Names{BrowseName: name, Description: description},
		DataType: model.DataTypeDouble,
		Access:   access,
		Initial:  model.Double(initial),
	})
}

// reading pairs a driven variable with its new value.
type reading struct {
	v     *model.Variable
	value float64
}

// writeAll writes every reading, even after a failure, and returns the
// combined errors.
func writeAll(readings ...reading) error {
	var err error
	for _, r := range readings {
		err = multierr.Append(err, r.v.WriteFloat(r.value))
	}
	return err
}

func uniform(rng Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func normal(rng Rand, mean, stddev float64) float64 {
	return mean + rng.NormFloat64()*stddev
}

// current returns the locally known value of a Double variable.
func current(v *model.Variable) float64 {
	f, _ := v.Value().Float64()
	return f
}
