package devices

import (
	"math"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// Machine simulation parameters.
const (
	RPMStdDev          = 10.0
	NominalPower       = 7.5
	PowerStdDev        = 0.1
	NominalVoltage     = 380.0
	VoltageSpread      = 10.0
	EnergyPerPowerTick = 0.001
)

// Machine is a rotating machine with a client-writable target speed. Its
// energy counter accumulates across ticks.
type Machine struct {
	dev *model.Device
	rng Rand

	rpm       *model.Variable
	power     *model.Variable
	voltage   *model.Variable
	energy    *model.Variable
	targetRPM *model.Variable

	baseRPM float64
}

var _ Simulated = (*Machine)(nil)

func newMachine(b *builder, baseRPM float64, rng Rand) *Machine {
	return &Machine{
		dev:       b.dev,
		rng:       rng,
		rpm:       b.double("FlywheelRPM", "Flywheel speed (rpm)", model.AccessReadOnly, baseRPM),
		power:     b.double("Power", "Power (kW)", model.AccessReadOnly, NominalPower),
		voltage:   b.double("Voltage", "Supply voltage (V)", model.AccessReadOnly, NominalVoltage),
		energy:    b.double("EnergyConsumption", "Energy consumption (kWh)", model.AccessReadOnly, 0),
		targetRPM: b.double("TargetRPM", "Flywheel set-point (rpm), client writable", model.AccessReadWrite, baseRPM),
		baseRPM:   baseRPM,
	}
}

func (m *Machine) Name() string        { return m.dev.BrowseName() }
func (m *Machine) Kind() Kind          { return KindMachine }
func (m *Machine) Node() *model.Device { return m.dev }

// BaseRPM returns the set-point the last tick simulated around.
func (m *Machine) BaseRPM() float64 { return m.baseRPM }

// Energy returns the accumulated energy consumption.
func (m *Machine) Energy() float64 { return current(m.energy) }

// UpdateValues picks up the client set-point and writes new speed,
// power, voltage and energy readings. TargetRPM itself is never written.
func (m *Machine) UpdateValues() error {
	if v, err := m.targetRPM.Read(); err == nil {
		if f, ok := v.Float64(); ok && f >= 0 && !math.IsNaN(f) && !math.IsInf(f, 0) {
			m.baseRPM = f
		}
	}

	rpm := math.Max(0, normal(m.rng, m.baseRPM, RPMStdDev))
	power := normal(m.rng, NominalPower, PowerStdDev)
	voltage := NominalVoltage + uniform(m.rng, -VoltageSpread, VoltageSpread)
	energy := current(m.energy) + power*EnergyPerPowerTick

	return writeAll(
		reading{m.rpm, rpm},
		reading{m.power, power},
		reading{m.voltage, voltage},
		reading{m.energy, energy},
	)
}
