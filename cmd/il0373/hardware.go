package main

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"il0373/internal/config"
	"il0373/internal/epd"
	appLog "il0373/internal/log"
)

// panel bundles a drawable surface with the display that owns it.
type panel struct {
	cfg     *epd.Config
	display *epd.Display
	surface epd.Surface

	// planes reads back the frame last drawn into surface.
	planes func() (black, red []byte, err error)

	// hardware is false for render-only panels with no transport.
	hardware bool
	// sram is set when the planes live in the SRAM chip.
	sram     bool
	closers  []func() error
}

func (p *panel) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newMemoryPanel returns a panel that only draws into host memory.
func newMemoryPanel(cfg *epd.Config) (*panel, error) {
	p, err := newGraphicPanel(epd.NewDisplay(nil, cfg))
	if err != nil {
		return nil, err
	}
	p.cfg = cfg
	return p, nil
}

func newGraphicPanel(d *epd.Display) (*panel, error) {
	size := d.Dimensions().BufferSize()
	g, err := epd.NewGraphicDisplay(d, make([]byte, size), make([]byte, size))
	if err != nil {
		return nil, err
	}
	return &panel{
		display: d,
		surface: g,
		planes: func() ([]byte, []byte, error) {
			b, r := g.Planes()
			return b, r, nil
		},
	}, nil
}

func newSramPanel(d *epd.Display) *panel {
	s := epd.NewSramGraphicDisplay(d)
	return &panel{
		display: d,
		surface: s,
		sram:    true,
		planes: func() ([]byte, []byte, error) {
			black := make([]byte, s.BufferSize())
			red := make([]byte, s.BufferSize())
			if err := d.Interface().SramRead(s.BlackAddress(), black); err != nil {
				return nil, nil, err
			}
			if err := d.Interface().SramRead(s.RedAddress(), red); err != nil {
				return nil, nil, err
			}
			return black, red, nil
		},
	}
}

// openPanel brings up the periph host, the SPI port and the GPIOs named in
// conf and returns a panel drawing either into host memory or into the SRAM
// chip on the bus.
func openPanel(conf *config.Config) (*panel, error) {
	epdCfg, err := conf.PanelConfig()
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init failed: %w", err)
	}

	port, err := spireg.Open(conf.SPI.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", conf.SPI.Port, err)
	}
	closers := []func() error{port.Close}
	fail := func(err error) (*panel, error) {
		_ = port.Close()
		return nil, err
	}
	if conf.SPI.MaxHz > 0 {
		if err := port.LimitSpeed(physic.Frequency(conf.SPI.MaxHz) * physic.Hertz); err != nil {
			return fail(fmt.Errorf("failed to limit SPI speed: %w", err))
		}
	}

	cs, err := outPin(conf.Pins.CS)
	if err != nil {
		return fail(err)
	}
	dc, err := outPin(conf.Pins.DC)
	if err != nil {
		return fail(err)
	}
	rst, err := outPin(conf.Pins.RST)
	if err != nil {
		return fail(err)
	}
	busy, err := inPin(conf.Pins.Busy)
	if err != nil {
		return fail(err)
	}

	var p *panel
	if conf.SRAM {
		p, err = openSramPanel(port, epdCfg, cs, dc, rst, busy, conf.Pins.SramCS)
	} else {
		p, err = openSPIPanel(port, epdCfg, cs, dc, rst, busy)
	}
	if err != nil {
		return fail(err)
	}
	p.cfg = epdCfg
	p.hardware = true
	p.closers = append(closers, p.closers...)

	appLog.Info("panel ready",
		"port", port.String(),
		"sram", conf.SRAM,
		"rows", int(epdCfg.Dimensions().Rows),
		"cols", int(epdCfg.Dimensions().Cols),
		"rotation", epdCfg.Rotation(),
	)
	return p, nil
}

func openSPIPanel(port spi.Port, cfg *epd.Config, cs, dc, rst gpio.PinOut, busy gpio.PinIn) (*panel, error) {
	iface, err := epd.NewSPIInterface(port, cs, dc, rst, busy)
	if err != nil {
		return nil, err
	}
	p, err := newGraphicPanel(epd.NewDisplay(iface, cfg))
	if err != nil {
		_ = iface.Close()
		return nil, err
	}
	p.closers = append(p.closers, iface.Close)
	return p, nil
}

func openSramPanel(port spi.Port, cfg *epd.Config, cs, dc, rst gpio.PinOut, busy gpio.PinIn, sramCSName string) (*panel, error) {
	sramCS, err := outPin(sramCSName)
	if err != nil {
		return nil, err
	}
	if cs == nil || sramCS == nil {
		return nil, errors.New("sram mode needs both chip selects")
	}
	bus, err := epd.NewSPIBus(port, cs, sramCS)
	if err != nil {
		return nil, err
	}
	iface, err := epd.NewSramInterface(bus, dc, rst, busy)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	p := newSramPanel(epd.NewDisplay(iface, cfg))
	p.closers = append(p.closers, iface.Close)
	return p, nil
}

// outPin resolves name with gpioreg. An empty name yields a nil pin.
func outPin(name string) (gpio.PinOut, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

func inPin(name string) (gpio.PinIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}
