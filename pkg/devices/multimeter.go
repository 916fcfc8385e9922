package devices

import "github.com/mash-protocol/opcsim-go/pkg/model"

// Multimeter ranges.
const (
	MinVoltage = 190.0
	MaxVoltage = 240.0
	MinCurrent = 0.5
	MaxCurrent = 15.0

	// OpenCircuitThreshold is the current (A) at or below which the
	// resistance is not computed.
	OpenCircuitThreshold = 0.1

	// ResistanceFallback (Ω) is reported instead of voltage/current when
	// the current is at or below OpenCircuitThreshold.
	ResistanceFallback = 1e6
)

// MultimeterReading is one set of multimeter values.
type MultimeterReading struct {
	Voltage    float64
	Current    float64
	Resistance float64
	Power      float64
}

// DeriveMultimeter computes resistance and power from a voltage and a
// current.
func DeriveMultimeter(voltage, current float64) MultimeterReading {
	r := MultimeterReading{
		Voltage:    voltage,
		Current:    current,
		Resistance: ResistanceFallback,
		Power:      voltage * current,
	}
	if current > OpenCircuitThreshold {
		r.Resistance = voltage / current
	}
	return r
}

// Multimeter measures a random load: voltage, current and the derived
// resistance and power.
type Multimeter struct {
	dev *model.Device
	rng Rand

	voltage    *model.Variable
	current    *model.Variable
	resistance *model.Variable
	power      *model.Variable

	last MultimeterReading
}

var _ Simulated = (*Multimeter)(nil)

func newMultimeter(b *builder, rng Rand) *Multimeter {
	return &Multimeter{
		dev:        b.dev,
		rng:        rng,
		voltage:    b.double("Voltage", "Voltage (V)", model.AccessReadOnly, 220),
		current:    b.double("Current", "Current (A)", model.AccessReadOnly, 5),
		resistance: b.double("Resistance", "Resistance (Ohm)", model.AccessReadOnly, 44),
		power:      b.double("Power", "Power (W)", model.AccessReadOnly, 1100),
	}
}

func (m *Multimeter) Name() string        { return m.dev.BrowseName() }
func (m *Multimeter) Kind() Kind          { return KindMultimeter }
func (m *Multimeter) Node() *model.Device { return m.dev }

// Last returns the readings of the latest tick.
func (m *Multimeter) Last() MultimeterReading { return m.last }

// UpdateValues draws a new voltage and current and writes all four
// readings.
func (m *Multimeter) UpdateValues() error {
	r := DeriveMultimeter(
		uniform(m.rng, MinVoltage, MaxVoltage),
		uniform(m.rng, MinCurrent, MaxCurrent),
	)
	m.last = r
	return writeAll(
		reading{m.voltage, r.Voltage},
		reading{m.current, r.Current},
		reading{m.resistance, r.Resistance},
		reading{m.power, r.Power},
	)
}
