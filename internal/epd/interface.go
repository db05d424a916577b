package epd

import (
	"errors"
	"time"
)

// Errors returned by this package. Transport failures from the SPI
// connection or the GPIO pins are never wrapped; they come back exactly as
// periph.io reported them.
var (
	// ErrUnsupported is returned when an operation is issued against a
	// DisplayInterface that cannot perform it, e.g. SRAM access on an
	// interface without an SRAM chip.
	ErrUnsupported = errors.New("epd: operation not supported by this interface")

	// ErrNoDimensions is returned by Builder.Build when no Dimensions were set.
	ErrNoDimensions = errors.New("epd: dimensions must be set")

	// ErrInvalidDimensions is returned by Builder.Build when the Dimensions
	// exceed the controller limits or cols is not a multiple of 8.
	ErrInvalidDimensions = errors.New("epd: invalid dimensions")

	// ErrInvalidArgument is returned when a command argument is out of the
	// range accepted by the controller.
	ErrInvalidArgument = errors.New("epd: command argument out of range")

	// ErrBufferSize is returned when plane buffers do not match the
	// configured dimensions.
	ErrBufferSize = errors.New("epd: invalid buffer size")
)

// ResetDelay is how long the reset line is held in each state while
// pulsing it. Sample code from Good Display holds for 10ms.
const ResetDelay = 10 * time.Millisecond

// DefaultMaxTxSize is the largest single SPI transfer issued when the
// connection does not report its own limit. Linux spidev defaults to 4096.
const DefaultMaxTxSize = 4096

// DelayFunc blocks for d. A nil DelayFunc means time.Sleep.
type DelayFunc func(d time.Duration)

func (f DelayFunc) sleep(d time.Duration) {
	if f == nil {
		time.Sleep(d)
		return
	}
	f(d)
}

// Layer selects one of the two controller RAM planes.
type Layer uint8

const (
	// BlackLayer is the black/white plane (1 = white, 0 = black).
	BlackLayer Layer = iota
	// RedLayer is the red plane (0 = red, 1 = use the black/white plane).
	RedLayer
)

func (l Layer) String() string {
	if l == RedLayer {
		return "red"
	}
	return "black"
}

// opcode returns the write-RAM command for the layer.
func (l Layer) opcode() byte {
	if l == RedLayer {
		return opWriteRedData
	}
	return opWriteBlackData
}

// DisplayInterface is the hardware connection to the controller.
//
// SPIInterface keeps the planes in host memory and implements UpdateData;
// SramInterface keeps them in an SRAM chip on the same bus and implements the
// Sram* methods. Methods a transport cannot serve return ErrUnsupported.
type DisplayInterface interface {
	// SendCommand sends a single command byte with DC low.
	//
	// Prefer Execute with a Command over calling this directly.
	SendCommand(cmd byte) error

	// SendData sends the argument bytes of the last command with DC high.
	SendData(data []byte) error

	// Reset pulses the reset line, waking a controller from deep sleep.
	Reset(delay DelayFunc) error

	// BusyWait blocks while the controller reports busy. There is no
	// timeout: a controller that never releases BUSY hangs the caller.
	BusyWait()

	// UpdateData writes buf to the RAM plane selected by layer.
	UpdateData(layer Layer, buf []byte) error

	// SramUpdateData streams n bytes starting at SRAM address start into
	// the RAM plane selected by layer, without passing through host memory.
	SramUpdateData(layer Layer, n uint16, start uint16) error

	// SramRead fills data from SRAM starting at address.
	SramRead(address uint16, data []byte) error

	// SramWrite stores data in SRAM starting at address.
	SramWrite(address uint16, data []byte) error

	// SramClear sets n bytes of SRAM starting at address to val.
	SramClear(address uint16, n uint16, val byte) error
}
