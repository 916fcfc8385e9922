// Package devices implements the simulated instruments: a multimeter, a
// rotating machine and a computer. Each device is a model.Device whose
// component variables are rewritten with fresh readings on every tick.
package devices
