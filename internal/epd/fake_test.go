package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var errWire = errors.New("wire: injected failure")

// pin is an output pin that records every level driven on it.
type pin struct {
	gpiotest.Pin
	history []gpio.Level
	onOut   func(gpio.Level)
}

func newPin(name string) *pin {
	return &pin{Pin: gpiotest.Pin{N: name, L: gpio.Low}}
}

func (p *pin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.history = append(p.history, l)
	if p.onOut != nil {
		p.onOut(l)
	}
	return nil
}

func (p *pin) level() gpio.Level { return p.Pin.Read() }

// busyPin reads High for the first n reads, then Low.
type busyPin struct {
	gpiotest.Pin
	n     int
	reads int
}

func newBusyPin(n int) *busyPin {
	return &busyPin{Pin: gpiotest.Pin{N: "BUSY"}, n: n}
}

func (b *busyPin) Read() gpio.Level {
	b.reads++
	if b.reads <= b.n {
		return gpio.High
	}
	return gpio.Low
}

// wire simulates the SPI bus with an IL0373 and an optional 23K640 SRAM
// attached. The controller is selected by cs or epdCS, the SRAM by sramCS.
type wire struct {
	cs, epdCS, sramCS, dc *pin

	maxTx   int
	txSizes []int
	txCount int
	failOn  int

	// frames holds what the controller received: one entry per command,
	// the opcode followed by its data.
	frames [][]byte

	mem       [1 << 16]byte
	status    byte
	sramPhase int
	sramOp    byte
	addr      uint16
}

var _ conn.Conn = (*wire)(nil)

func (w *wire) String() string      { return "wire" }
func (w *wire) Duplex() conn.Duplex { return conn.Full }
func (w *wire) MaxTxSize() int      { return w.maxTx }

func (w *wire) sramSelect(l gpio.Level) {
	if l == gpio.Low {
		w.sramPhase = 0
	}
}

// failAfter makes the n-th Tx from now fail.
func (w *wire) failAfter(n int) { w.failOn = w.txCount + n }

func (w *wire) Tx(wb, r []byte) error {
	w.txCount++
	if w.failOn != 0 && w.txCount >= w.failOn {
		return errWire
	}
	if r != nil && len(r) != len(wb) {
		return fmt.Errorf("wire: tx %d bytes, rx %d", len(wb), len(r))
	}
	w.txSizes = append(w.txSizes, len(wb))
	for i, b := range wb {
		var out byte
		if w.sramSelected() {
			out = w.sramClock(b)
		}
		if w.epdSelected() {
			w.epdClock(b)
		}
		if r != nil {
			r[i] = out
		}
	}
	return nil
}

func (w *wire) epdSelected() bool {
	switch {
	case w.epdCS != nil:
		return w.epdCS.level() == gpio.Low
	case w.cs != nil:
		return w.cs.level() == gpio.Low
	}
	return true
}

func (w *wire) sramSelected() bool {
	return w.sramCS != nil && w.sramCS.level() == gpio.Low
}

func (w *wire) epdClock(b byte) {
	if w.dc.level() == gpio.Low || len(w.frames) == 0 {
		w.frames = append(w.frames, []byte{b})
		return
	}
	last := len(w.frames) - 1
	w.frames[last] = append(w.frames[last], b)
}

func (w *wire) sramClock(b byte) byte {
	switch w.sramPhase {
	case 0:
		w.sramOp = b
		w.sramPhase = 1
	case 1:
		switch w.sramOp {
		case sramRead, sramWrite:
			w.addr = uint16(b) << 8
			w.sramPhase = 2
		case sramWRSR:
			w.status = b
			w.sramPhase = 4
		default:
			w.sramPhase = 4
		}
	case 2:
		w.addr |= uint16(b)
		w.sramPhase = 3
	case 3:
		switch w.sramOp {
		case sramRead:
			out := w.mem[w.addr]
			w.addr++
			return out
		case sramWrite:
			w.mem[w.addr] = b
			w.addr++
		}
	}
	return 0
}

// port is an spi.Port handing out a wire.
type port struct {
	w    *wire
	freq physic.Frequency
	mode spi.Mode
	bits int
}

func (p *port) String() string                     { return "port" }
func (p *port) LimitSpeed(f physic.Frequency) error { return nil }

func (p *port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.freq, p.mode, p.bits = f, mode, bits
	return portConn{p.w}, nil
}

type portConn struct{ *wire }

func (portConn) TxPackets([]spi.Packet) error { return errors.New("not implemented") }

type spiRig struct {
	iface       *SPIInterface
	wire        *wire
	cs, dc, rst *pin
	busy        *busyPin
	delays      []time.Duration
}

func newSPIRig() *spiRig {
	r := &spiRig{cs: newPin("CS"), dc: newPin("DC"), rst: newPin("RST"), busy: newBusyPin(0)}
	r.wire = &wire{cs: r.cs, dc: r.dc}
	r.iface = newSPIInterface(r.wire, r.cs, r.dc, r.rst, r.busy)
	return r
}

func (r *spiRig) delay(d time.Duration) { r.delays = append(r.delays, d) }

type sramRig struct {
	iface                  *SramInterface
	wire                   *wire
	epdCS, sramCS, dc, rst *pin
	busy                   *busyPin
	delays                 []time.Duration
}

func newSramRig() (*sramRig, error) {
	r := &sramRig{
		epdCS:  newPin("EPD_CS"),
		sramCS: newPin("SRAM_CS"),
		dc:     newPin("DC"),
		rst:    newPin("RST"),
		busy:   newBusyPin(0),
	}
	r.wire = &wire{epdCS: r.epdCS, sramCS: r.sramCS, dc: r.dc}
	r.sramCS.onOut = r.wire.sramSelect
	bus, err := newSPIBus(r.wire, r.epdCS, r.sramCS)
	if err != nil {
		return nil, err
	}
	r.iface, err = newSramInterface(bus, r.dc, r.rst, r.busy)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sramRig) delay(d time.Duration) { r.delays = append(r.delays, d) }

// recorder is a DisplayInterface that records what the Display sends.
type recorder struct {
	frames  [][]byte
	calls   []string
	delays  []time.Duration
	sendErr error
}

var _ DisplayInterface = (*recorder)(nil)

func (r *recorder) SendCommand(cmd byte) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.calls = append(r.calls, fmt.Sprintf("cmd %02x", cmd))
	r.frames = append(r.frames, []byte{cmd})
	return nil
}

func (r *recorder) SendData(data []byte) error {
	if len(r.frames) == 0 {
		r.frames = append(r.frames, nil)
	}
	last := len(r.frames) - 1
	r.frames[last] = append(r.frames[last], data...)
	return nil
}

func (r *recorder) Reset(DelayFunc) error {
	r.calls = append(r.calls, "reset")
	return nil
}

func (r *recorder) BusyWait() { r.calls = append(r.calls, "busy") }

func (r *recorder) UpdateData(l Layer, buf []byte) error {
	r.calls = append(r.calls, "update "+l.String())
	r.frames = append(r.frames, append([]byte{l.opcode()}, buf...))
	return nil
}

func (r *recorder) SramUpdateData(l Layer, n, start uint16) error {
	r.calls = append(r.calls, fmt.Sprintf("sram %s %d@%d", l, n, start))
	return nil
}

func (r *recorder) SramRead(uint16, []byte) error        { return ErrUnsupported }
func (r *recorder) SramWrite(uint16, []byte) error       { return ErrUnsupported }
func (r *recorder) SramClear(uint16, uint16, byte) error { return ErrUnsupported }

func (r *recorder) delay(d time.Duration) { r.delays = append(r.delays, d) }

// initFrames is the power-up sequence for the default Config.
func initFrames(cols byte, rowsHi, rowsLo byte) [][]byte {
	return [][]byte{
		{0x01, 0x03, 0x00, 0x2b, 0x2b, 0x09},
		{0x06, 0x17, 0x17, 0x17},
		{0x04},
		{0x00, 0xCF},
		{0x50, 0x37},
		{0x30, 0x29},
		{0x82, 0x0A},
		{0x61, cols, rowsHi, rowsLo},
	}
}

func mustConfig(rows uint16, cols uint8, r Rotation) *Config {
	c, err := NewBuilder().Dimensions(Dimensions{Rows: rows, Cols: cols}).Rotation(r).Build()
	if err != nil {
		panic(err)
	}
	return c
}
