// Package epd drives IL0373 black/white/red e-paper controllers over SPI
// using periph.io.
//
// To control a panel you need a DisplayInterface (the SPI connection and the
// DC/RST/BUSY pins), a Config describing the panel, and a Display. A Display
// is usually wrapped in a GraphicDisplay, which owns the two planes in host
// memory, or a SramGraphicDisplay, which keeps them in an SRAM chip sharing
// the bus.
//
// A refresh cycle is:
//
//  1. Reset
//  2. Clear and draw
//  3. Update
//  4. DeepSleep
package epd

import (
	"fmt"
	"time"

	appLog "il0373/internal/log"
)

// Delays mandated by the controller during init.
const (
	powerOnDelay = 200 * time.Millisecond
	vcmdcDelay   = 20 * time.Millisecond
)

// State is the controller power state as last driven by a Display.
type State uint8

const (
	Uninitialized State = iota
	Active
	Sleeping
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Sleeping:
		return "sleeping"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Display is a configured controller behind a DisplayInterface.
//
// State is tracked but not enforced: after DeepSleep only Reset is valid,
// and issuing anything else leaves the hardware in an undefined state.
type Display struct {
	iface  DisplayInterface
	config *Config
	state  State
}

// NewDisplay creates a Display from an interface and a Config built with
// Builder.
func NewDisplay(iface DisplayInterface, config *Config) *Display {
	return &Display{iface: iface, config: config}
}

// Reset performs a hardware reset and initializes the controller. This also
// wakes a controller from deep sleep.
func (d *Display) Reset(delay DelayFunc) error {
	if err := d.iface.Reset(delay); err != nil {
		return err
	}
	if err := d.init(delay); err != nil {
		return err
	}
	d.setState(Active)
	return nil
}

// init runs the power-up sequence. The order is fixed by the controller.
func (d *Display) init(delay DelayFunc) error {
	c := d.config
	steps := []Command{
		c.powerSetting,
		c.boosterSoftStart,
		PowerOn{},
	}
	if err := d.run(steps...); err != nil {
		return err
	}
	delay.sleep(powerOnDelay)

	steps = []Command{
		c.panelSetting,
		VCOMDataIntervalSetting{Border: 0, Polarity: Both, Interval: V10},
		c.pll,
		VCMDCSetting{VCOMDC: 0x0A},
	}
	if err := d.run(steps...); err != nil {
		return err
	}
	delay.sleep(vcmdcDelay)

	return Execute(ResolutionSetting{Cols: c.dimensions.Cols, Rows: c.dimensions.Rows}, d.iface)
}

func (d *Display) run(cmds ...Command) error {
	for _, cmd := range cmds {
		if err := Execute(cmd, d.iface); err != nil {
			return err
		}
	}
	return nil
}

// Update writes both planes to the controller, refreshes the panel and
// waits until the controller is idle.
func (d *Display) Update(black, red []byte) error {
	size := d.config.dimensions.BufferSize()
	if len(black) != size || len(red) != size {
		return fmt.Errorf("%w: expected %d bytes per plane, got %d/%d", ErrBufferSize, size, len(black), len(red))
	}
	if err := d.iface.UpdateData(BlackLayer, black); err != nil {
		return err
	}
	if err := d.iface.UpdateData(RedLayer, red); err != nil {
		return err
	}
	return d.refresh()
}

// UpdateFromSram streams n bytes per plane from SRAM, black plane at
// blackAddr and red plane at redAddr, then refreshes the panel and waits
// until the controller is idle.
func (d *Display) UpdateFromSram(n, blackAddr, redAddr uint16) error {
	if err := d.iface.SramUpdateData(BlackLayer, n, blackAddr); err != nil {
		return err
	}
	if err := d.iface.SramUpdateData(RedLayer, n, redAddr); err != nil {
		return err
	}
	return d.refresh()
}

func (d *Display) refresh() error {
	if err := d.SignalUpdate(); err != nil {
		return err
	}
	d.iface.BusyWait()
	return nil
}

// SignalUpdate tells the controller to refresh the panel from its RAM.
func (d *Display) SignalUpdate() error {
	return Execute(DisplayRefresh{}, d.iface)
}

func (d *Display) powerDown() error {
	d.iface.BusyWait()
	return d.run(
		VCOMDataIntervalSetting{Border: 0, Polarity: BWOnly, Interval: V10},
		VCMDCSetting{VCOMDC: 0},
		PowerOff{},
	)
}

// DeepSleep puts the controller into its low power mode. Reset must be
// called to wake it.
func (d *Display) DeepSleep() error {
	if err := d.powerDown(); err != nil {
		return err
	}
	if err := Execute(DeepSleep{}, d.iface); err != nil {
		return err
	}
	d.setState(Sleeping)
	return nil
}

func (d *Display) setState(s State) {
	if d.state != s {
		appLog.Debug("epd state change", "from", d.state, "to", s)
	}
	d.state = s
}

// State returns the controller state as last driven by this Display.
func (d *Display) State() State { return d.state }

// Rows returns the number of rows the display has.
func (d *Display) Rows() uint16 { return d.config.dimensions.Rows }

// Cols returns the number of columns the display has.
func (d *Display) Cols() uint8 { return d.config.dimensions.Cols }

// Rotation returns the rotation the display was configured with.
func (d *Display) Rotation() Rotation { return d.config.rotation }

// Dimensions returns the native dimensions of the display.
func (d *Display) Dimensions() Dimensions { return d.config.dimensions }

// Interface returns the underlying DisplayInterface.
func (d *Display) Interface() DisplayInterface { return d.iface }
