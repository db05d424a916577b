package epd

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MaxSpeed is the SPI clock used to talk to the controller.
const MaxSpeed = 4 * physic.MegaHertz

// SPIInterface is the hardware connection to a controller whose planes are
// kept in host memory.
type SPIInterface struct {
	c conn.Conn

	// cs is optional; nil when the SPI port drives chip select itself.
	cs   gpio.PinOut
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	maxTx int
}

var _ DisplayInterface = (*SPIInterface)(nil)

// NewSPIInterface connects to the controller on p.
//
// cs may be nil to let the SPI port assert chip select. busy is configured
// as an input; the controller holds it high while busy.
func NewSPIInterface(p spi.Port, cs, dc, rst gpio.PinOut, busy gpio.PinIn) (*SPIInterface, error) {
	mode := spi.Mode0
	if cs != nil {
		mode |= spi.NoCS
	}
	c, err := p.Connect(MaxSpeed, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: busy pin %s: %w", busy, err)
	}
	for _, pin := range []gpio.PinOut{cs, rst} {
		if pin == nil {
			continue
		}
		if err := pin.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("epd: pin %s: %w", pin, err)
		}
	}
	return newSPIInterface(c, cs, dc, rst, busy), nil
}

func newSPIInterface(c conn.Conn, cs, dc, rst gpio.PinOut, busy gpio.PinIn) *SPIInterface {
	return &SPIInterface{
		c:     c,
		cs:    cs,
		dc:    dc,
		rst:   rst,
		busy:  busy,
		maxTx: maxTxSize(c),
	}
}

// maxTxSize returns the transfer limit reported by c, or DefaultMaxTxSize.
func maxTxSize(c conn.Conn) int {
	if l, ok := c.(conn.Limits); ok {
		if n := l.MaxTxSize(); n > 0 {
			return n
		}
	}
	return DefaultMaxTxSize
}

// write sends data with chip select asserted, split into transfers of at
// most maxTx bytes.
func (s *SPIInterface) write(data []byte) error {
	if err := s.csOut(gpio.Low); err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > s.maxTx {
			n = s.maxTx
		}
		if err := s.c.Tx(data[:n], nil); err != nil {
			_ = s.csOut(gpio.High)
			return err
		}
		data = data[n:]
	}
	return s.csOut(gpio.High)
}

func (s *SPIInterface) csOut(l gpio.Level) error {
	if s.cs == nil {
		return nil
	}
	return s.cs.Out(l)
}

// Reset pulses the reset line low and high three times.
func (s *SPIInterface) Reset(delay DelayFunc) error {
	return pulseReset(s.rst, delay)
}

// SendCommand implements DisplayInterface.
func (s *SPIInterface) SendCommand(cmd byte) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := s.write([]byte{cmd}); err != nil {
		return err
	}
	return s.dc.Out(gpio.High)
}

// SendData implements DisplayInterface.
func (s *SPIInterface) SendData(data []byte) error {
	if err := s.dc.Out(gpio.High); err != nil {
		return err
	}
	return s.write(data)
}

// BusyWait spins while the busy line is high.
func (s *SPIInterface) BusyWait() {
	waitIdle(s.busy)
}

// UpdateData writes buf to the plane selected by layer.
func (s *SPIInterface) UpdateData(layer Layer, buf []byte) error {
	if layer == RedLayer {
		return Execute(WriteRedData(buf), s)
	}
	return Execute(WriteBlackData(buf), s)
}

// SramUpdateData is not supported without an SRAM chip.
func (s *SPIInterface) SramUpdateData(Layer, uint16, uint16) error { return ErrUnsupported }

// SramRead is not supported without an SRAM chip.
func (s *SPIInterface) SramRead(uint16, []byte) error { return ErrUnsupported }

// SramWrite is not supported without an SRAM chip.
func (s *SPIInterface) SramWrite(uint16, []byte) error { return ErrUnsupported }

// SramClear is not supported without an SRAM chip.
func (s *SPIInterface) SramClear(uint16, uint16, byte) error { return ErrUnsupported }

// Close releases chip select. The SPI port stays open; closing it is up to
// the caller that opened it.
func (s *SPIInterface) Close() error {
	return s.csOut(gpio.High)
}

// String implements fmt.Stringer.
func (s *SPIInterface) String() string {
	return fmt.Sprintf("epd.SPIInterface{%s, dc: %s, rst: %s, busy: %s}", s.c, s.dc, s.rst, s.busy)
}

// pulseReset drives rst low then high three times, holding each level for
// ResetDelay.
func pulseReset(rst gpio.PinOut, delay DelayFunc) error {
	for i := 0; i < 3; i++ {
		if err := rst.Out(gpio.Low); err != nil {
			return err
		}
		delay.sleep(ResetDelay)
		if err := rst.Out(gpio.High); err != nil {
			return err
		}
		delay.sleep(ResetDelay)
	}
	return nil
}

// waitIdle polls busy until it reads low. It has no timeout.
func waitIdle(busy gpio.PinIn) {
	for busy.Read() == gpio.High {
	}
}
