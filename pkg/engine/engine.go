// Package engine drives the simulated devices: one Tick updates every
// device once, in declaration order.
package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Device is anything the engine can update.
type Device interface {
	Name() string
	UpdateValues() error
}

// Observer is notified after every tick.
type Observer interface {
	ObserveTick(elapsed time.Duration, failed []string)
}

// Config configures an Engine.
type Config struct {
	// Logger receives one warning per failed device update (optional).
	Logger *slog.Logger

	// Observer receives tick outcomes (optional).
	Observer Observer
}

// Engine owns the ordered device list.
type Engine struct {
	devices  []Device
	logger   *slog.Logger
	observer Observer
	ticks    atomic.Uint64
}

// New creates an engine over devices. The slice order is the update
// order.
func New(devices []Device, config Config) *Engine {
	return &Engine{
		devices:  append([]Device(nil), devices...),
		logger:   config.Logger,
		observer: config.Observer,
	}
}

// Devices returns the device count.
func (e *Engine) Devices() int { return len(e.devices) }

// Ticks returns how many ticks have run.
func (e *Engine) Ticks() uint64 { return e.ticks.Load() }

// Tick calls UpdateValues on every device exactly once. A failing device
// does not stop the others; the failures are logged and returned
// together.
func (e *Engine) Tick() error {
	start := time.Now()
	tick := e.ticks.Add(1)

	var (
		errs   error
		failed []string
	)
	for _, d := range e.devices {
		if err := d.UpdateValues(); err != nil {
			failed = append(failed, d.Name())
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			if e.logger != nil {
				e.logger.Warn("device update failed",
					"device", d.Name(),
					"tick", tick,
					"error", err)
			}
		}
	}

	if e.observer != nil {
		e.observer.ObserveTick(time.Since(start), failed)
	}
	return errs
}
