package epd

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// 23K640-style SPI SRAM instructions.
const (
	sramRead  byte = 0x03
	sramWrite byte = 0x02
	sramWRSR  byte = 0x01

	// sramSequentialMode is the status register value enabling
	// auto-incrementing addresses.
	sramSequentialMode byte = 1 << 6
)

// SPIBus is an SPI connection shared by the controller and an SRAM chip,
// each with its own active-low chip select. At most one chip select is
// asserted at a time, except while streaming SRAM to the controller.
type SPIBus struct {
	c      conn.Conn
	epdCS  gpio.PinOut
	sramCS gpio.PinOut
	maxTx  int

	// tx and rx are the one-byte buffers used when clocking single bytes.
	tx, rx [1]byte
}

// NewSPIBus connects to p with chip select under software control and
// releases both chip selects.
func NewSPIBus(p spi.Port, epdCS, sramCS gpio.PinOut) (*SPIBus, error) {
	c, err := p.Connect(MaxSpeed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}
	return newSPIBus(c, epdCS, sramCS)
}

func newSPIBus(c conn.Conn, epdCS, sramCS gpio.PinOut) (*SPIBus, error) {
	if err := epdCS.Out(gpio.High); err != nil {
		return nil, err
	}
	if err := sramCS.Out(gpio.High); err != nil {
		return nil, err
	}
	return &SPIBus{c: c, epdCS: epdCS, sramCS: sramCS, maxTx: maxTxSize(c)}, nil
}

// SramInit clocks the wake-up pattern into the SRAM.
func (b *SPIBus) SramInit() error {
	return b.sramTx(func() error {
		return b.write([]byte{0xFF, 0xFF, 0xFF})
	})
}

// SramSeq puts the SRAM into sequential mode.
func (b *SPIBus) SramSeq() error {
	return b.sramTx(func() error {
		return b.write([]byte{sramWRSR, sramSequentialMode})
	})
}

// SramWrite stores data starting at address.
func (b *SPIBus) SramWrite(address uint16, data []byte) error {
	return b.sramTx(func() error {
		if err := b.write(sramHeader(sramWrite, address)); err != nil {
			return err
		}
		return b.write(data)
	})
}

// SramRead fills data starting at address.
func (b *SPIBus) SramRead(address uint16, data []byte) error {
	return b.sramTx(func() error {
		if err := b.write(sramHeader(sramRead, address)); err != nil {
			return err
		}
		return b.transfer(data)
	})
}

// SramErase sets n bytes starting at address to val.
func (b *SPIBus) SramErase(address uint16, n uint16, val byte) error {
	return b.sramTx(func() error {
		if err := b.write(sramHeader(sramWrite, address)); err != nil {
			return err
		}
		for i := uint16(0); i < n; i++ {
			if _, err := b.exchange(val); err != nil {
				return err
			}
		}
		return nil
	})
}

// sramEPDMoveHeader starts a transfer from SRAM at address to the controller
// register epdLocation. The SRAM is selected and sent a READ header, then the
// controller is selected as well and sent epdLocation; the byte clocked back
// meanwhile is the first SRAM byte, which is returned. Both chip selects stay
// asserted.
func (b *SPIBus) sramEPDMoveHeader(address uint16, epdLocation byte) (byte, error) {
	if err := b.sramCS.Out(gpio.Low); err != nil {
		return 0, err
	}
	if err := b.write(sramHeader(sramRead, address)); err != nil {
		return 0, err
	}
	if err := b.epdCS.Out(gpio.Low); err != nil {
		return 0, err
	}
	return b.exchange(epdLocation)
}

// sramEPDMoveBody forwards n bytes from SRAM to the controller, starting with
// first as returned by sramEPDMoveHeader. Each clocked byte is the previous
// SRAM byte going out to the controller while the next one comes in. Both
// chip selects are released at the end.
//
// On a transfer error both chip selects are left asserted; the bus and the
// controller must be reset before further use.
func (b *SPIBus) sramEPDMoveBody(first byte, n uint16) error {
	c := first
	for i := uint16(0); i < n; i++ {
		next, err := b.exchange(c)
		if err != nil {
			return err
		}
		c = next
	}
	if err := b.epdCS.Out(gpio.High); err != nil {
		return err
	}
	return b.sramCS.Out(gpio.High)
}

// EPDWrite sends data to the controller.
func (b *SPIBus) EPDWrite(data []byte) error {
	if err := b.epdCS.Out(gpio.Low); err != nil {
		return err
	}
	if err := b.write(data); err != nil {
		_ = b.epdCS.Out(gpio.High)
		return err
	}
	return b.epdCS.Out(gpio.High)
}

// sramTx runs fn with the SRAM selected.
func (b *SPIBus) sramTx(fn func() error) error {
	if err := b.sramCS.Out(gpio.Low); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = b.sramCS.Out(gpio.High)
		return err
	}
	return b.sramCS.Out(gpio.High)
}

// write clocks data out and discards what comes back.
func (b *SPIBus) write(data []byte) error {
	for len(data) > 0 {
		n := min(len(data), b.maxTx)
		if err := b.c.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// transfer clocks data out and replaces it with what comes back.
func (b *SPIBus) transfer(data []byte) error {
	w := make([]byte, min(len(data), b.maxTx))
	for len(data) > 0 {
		n := min(len(data), b.maxTx)
		copy(w, data[:n])
		if err := b.c.Tx(w[:n], data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// exchange clocks out one byte and returns the byte clocked in.
func (b *SPIBus) exchange(v byte) (byte, error) {
	b.tx[0] = v
	if err := b.c.Tx(b.tx[:], b.rx[:]); err != nil {
		return 0, err
	}
	return b.rx[0], nil
}

// Close releases both chip selects.
func (b *SPIBus) Close() error {
	err := b.epdCS.Out(gpio.High)
	if err2 := b.sramCS.Out(gpio.High); err == nil {
		err = err2
	}
	return err
}

// String implements fmt.Stringer.
func (b *SPIBus) String() string {
	return fmt.Sprintf("epd.SPIBus{%s, epd: %s, sram: %s}", b.c, b.epdCS, b.sramCS)
}

func sramHeader(op byte, address uint16) []byte {
	return []byte{op, byte(address >> 8), byte(address)}
}

// SramInterface is the hardware connection to a controller whose planes are
// kept in an SRAM chip on the same bus.
type SramInterface struct {
	bus  *SPIBus
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn
}

var _ DisplayInterface = (*SramInterface)(nil)

// NewSramInterface wraps bus with the controller's DC, RST and BUSY pins. DC
// starts low and RST high (inactive).
func NewSramInterface(bus *SPIBus, dc, rst gpio.PinOut, busy gpio.PinIn) (*SramInterface, error) {
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: busy pin %s: %w", busy, err)
	}
	return newSramInterface(bus, dc, rst, busy)
}

func newSramInterface(bus *SPIBus, dc, rst gpio.PinOut, busy gpio.PinIn) (*SramInterface, error) {
	if err := dc.Out(gpio.Low); err != nil {
		return nil, err
	}
	if err := rst.Out(gpio.High); err != nil {
		return nil, err
	}
	return &SramInterface{bus: bus, dc: dc, rst: rst, busy: busy}, nil
}

// Bus returns the shared SPI bus.
func (s *SramInterface) Bus() *SPIBus { return s.bus }

// Close releases the bus.
func (s *SramInterface) Close() error { return s.bus.Close() }

// SendCommand implements DisplayInterface.
func (s *SramInterface) SendCommand(cmd byte) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return err
	}
	return s.bus.EPDWrite([]byte{cmd})
}

// SendData implements DisplayInterface.
func (s *SramInterface) SendData(data []byte) error {
	if err := s.dc.Out(gpio.High); err != nil {
		return err
	}
	return s.bus.EPDWrite(data)
}

// Reset wakes the SRAM, pulses the controller reset line three times and
// puts the SRAM into sequential mode.
func (s *SramInterface) Reset(delay DelayFunc) error {
	if err := s.bus.SramInit(); err != nil {
		return err
	}
	if err := pulseReset(s.rst, delay); err != nil {
		return err
	}
	return s.bus.SramSeq()
}

// BusyWait spins while the busy line is high.
func (s *SramInterface) BusyWait() {
	waitIdle(s.busy)
}

// UpdateData is not supported; the planes live in SRAM.
func (s *SramInterface) UpdateData(Layer, []byte) error { return ErrUnsupported }

// SramUpdateData streams n bytes from SRAM at start into the plane selected
// by layer.
func (s *SramInterface) SramUpdateData(layer Layer, n uint16, start uint16) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return err
	}
	first, err := s.bus.sramEPDMoveHeader(start, layer.opcode())
	if err != nil {
		return err
	}
	if err := s.dc.Out(gpio.High); err != nil {
		return err
	}
	return s.bus.sramEPDMoveBody(first, n)
}

// SramRead implements DisplayInterface.
func (s *SramInterface) SramRead(address uint16, data []byte) error {
	return s.bus.SramRead(address, data)
}

// SramWrite implements DisplayInterface.
func (s *SramInterface) SramWrite(address uint16, data []byte) error {
	return s.bus.SramWrite(address, data)
}

// SramClear implements DisplayInterface.
func (s *SramInterface) SramClear(address uint16, n uint16, val byte) error {
	return s.bus.SramErase(address, n, val)
}
