package battery

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// DefaultAddr is the I2C address of a PiSugar3 battery controller.
const DefaultAddr = 0x57

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status represents current battery status for the panel tool and its API.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how we obtain battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Gauge reads a PiSugar3 style battery controller over I2C.
type Gauge struct {
	dev *i2c.Dev
}

var _ Reader = (*Gauge)(nil)

// NewGauge returns a Gauge for the controller at addr on bus.
func NewGauge(bus i2c.Bus, addr uint16) *Gauge {
	return &Gauge{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// Open opens the I2C bus busName ("" for the first one) and returns a Gauge
// on it with the bus to close when done. host.Init must already have run.
func Open(busName string, addr uint16) (*Gauge, i2c.BusCloser, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("battery: failed to open I2C bus %q: %w", busName, err)
	}
	return NewGauge(bus, addr), bus, nil
}

// Read implements Reader.
func (g *Gauge) Read(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	high, err := g.readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := g.readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := g.readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

func (g *Gauge) readReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := g.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("battery: read register %#02x: %w", reg, err)
	}
	return buf[0], nil
}
