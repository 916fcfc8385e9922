package devices

import "github.com/mash-protocol/opcsim-go/pkg/model"

// ComputerReading is one set of computer values.
type ComputerReading struct {
	CPULoad  float64
	GPULoad  float64
	RAMUsage float64
	Fan1     float64
	Fan2     float64
	Fan3     float64
}

// DeriveComputer computes the fan speeds (rpm) from the loads (%).
func DeriveComputer(cpu, gpu, ram float64) ComputerReading {
	return ComputerReading{
		CPULoad:  cpu,
		GPULoad:  gpu,
		RAMUsage: ram,
		Fan1:     1000 + 10*cpu,
		Fan2:     800 + 5*(cpu+gpu),
		Fan3:     900 + 8*(0.7*cpu+0.3*gpu),
	}
}

// Computer reports random loads and fan speeds that follow them.
type Computer struct {
	dev *model.Device
	rng Rand

	cpu  *model.Variable
	gpu  *model.Variable
	ram  *model.Variable
	fan1 *model.Variable
	fan2 *model.Variable
	fan3 *model.Variable
}

var _ Simulated = (*Computer)(nil)

func newComputer(b *builder, rng Rand) *Computer {
	start := DeriveComputer(50, 50, 50)
	return &Computer{
		dev:  b.dev,
		rng:  rng,
		cpu:  b.double("CPULoad", "CPU load (%)", model.AccessReadOnly, start.CPULoad),
		gpu:  b.double("GPULoad", "GPU load (%)", model.AccessReadOnly, start.GPULoad),
		ram:  b.double("RAMUsage", "RAM usage (%)", model.AccessReadOnly, start.RAMUsage),
		fan1: b.double("Fan1Speed", "CPU fan (rpm)", model.AccessReadOnly, start.Fan1),
		fan2: b.double("Fan2Speed", "Case fan (rpm)", model.AccessReadOnly, start.Fan2),
		fan3: b.double("Fan3Speed", "Exhaust fan (rpm)", model.AccessReadOnly, start.Fan3),
	}
}

func (c *Computer) Name() string        { return c.dev.BrowseName() }
func (c *Computer) Kind() Kind          { return KindComputer }
func (c *Computer) Node() *model.Device { return c.dev }

// UpdateValues draws new loads and recomputes every fan.
func (c *Computer) UpdateValues() error {
	r := DeriveComputer(
		uniform(c.rng, 20, 80),
		uniform(c.rng, 20, 80),
		uniform(c.rng, 30, 70),
	)
	return writeAll(
		reading{c.cpu, r.CPULoad},
		reading{c.gpu, r.GPULoad},
		reading{c.ram, r.RAMUsage},
		reading{c.fan1, r.Fan1},
		reading{c.fan2, r.Fan2},
		reading{c.fan3, r.Fan3},
	)
}
