package epd

import "fmt"

// Controller opcodes.
const (
	opPanelSetting            byte = 0x00
	opPowerSetting            byte = 0x01
	opPowerOff                byte = 0x03
	opPowerOn                 byte = 0x04
	opBoosterSoftStart        byte = 0x06
	opDeepSleep               byte = 0x08
	opWriteBlackData          byte = 0x10
	opDataStop                byte = 0x11
	opDisplayRefresh          byte = 0x12
	opWriteRedData            byte = 0x13
	opPLLControl              byte = 0x30
	opVCOMDataIntervalSetting byte = 0x50
	opResolutionSetting       byte = 0x61
	opVCMDCSetting            byte = 0x82
)

// deepSleepCheck is the check code the controller requires after DeepSleep.
const deepSleepCheck = 0xA5

// maxArgs is the longest argument list of any fixed command (PowerSetting).
const maxArgs = 5

// argBuf holds the arguments of one fixed command.
type argBuf [maxArgs]byte

// pack copies vals into b and returns the filled prefix.
func (b *argBuf) pack(vals ...byte) []byte {
	n := copy(b[:], vals)
	return b[:n]
}

// Command is an instruction understood by the controller. The set of
// commands is closed; use the types declared in this package.
type Command interface {
	encode(buf *argBuf) (opcode byte, args []byte, err error)
}

// Execute encodes cmd and transmits it: the opcode with SendCommand, then the
// arguments with SendData when there are any. Transport errors are returned
// unchanged and abort the command.
func Execute(cmd Command, iface DisplayInterface) error {
	var buf argBuf
	op, args, err := cmd.encode(&buf)
	if err != nil {
		return err
	}
	if err := iface.SendCommand(op); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	return iface.SendData(args)
}

// DisplayResolution is the resolution class selected by PanelSetting.
type DisplayResolution uint8

const (
	R96x230 DisplayResolution = iota
	R96x252
	R128x296
	R160x296
)

func (r DisplayResolution) String() string {
	switch r {
	case R96x230:
		return "96x230"
	case R96x252:
		return "96x252"
	case R128x296:
		return "128x296"
	case R160x296:
		return "160x296"
	}
	return fmt.Sprintf("DisplayResolution(%d)", uint8(r))
}

// DataPolarity selects which planes the border and data follow.
type DataPolarity uint8

const (
	BWOnly DataPolarity = iota
	RedOnly
	Both
)

// DataInterval is the VCOM and data interval, V2 through V17.
type DataInterval uint8

const (
	V2 DataInterval = iota
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
)

// PanelSetting (PSR). Overridden by ResolutionSetting (TRES).
type PanelSetting struct {
	Resolution DisplayResolution
}

func (c PanelSetting) encode(buf *argBuf) (byte, []byte, error) {
	if c.Resolution > R160x296 {
		return 0, nil, fmt.Errorf("%w: resolution %d", ErrInvalidArgument, c.Resolution)
	}
	return opPanelSetting, buf.pack(byte(c.Resolution)<<6 | 0b001111), nil
}

// PowerSetting (PWR). Each voltage level must be below 64.
type PowerSetting struct {
	VDH, VDL, VDHR uint8
}

func (c PowerSetting) encode(buf *argBuf) (byte, []byte, error) {
	if c.VDH >= 64 || c.VDL >= 64 || c.VDHR >= 64 {
		return 0, nil, fmt.Errorf("%w: power setting %#x %#x %#x", ErrInvalidArgument, c.VDH, c.VDL, c.VDHR)
	}
	return opPowerSetting, buf.pack(0x03, 0x00, c.VDH, c.VDL, c.VDHR), nil
}

// PowerOff (POF).
type PowerOff struct{}

func (PowerOff) encode(buf *argBuf) (byte, []byte, error) {
	return opPowerOff, buf.pack(), nil
}

// PowerOn (PON).
type PowerOn struct{}

func (PowerOn) encode(buf *argBuf) (byte, []byte, error) {
	return opPowerOn, buf.pack(), nil
}

// BoosterSoftStart (BTST) phases A, B and C.
type BoosterSoftStart struct {
	PhaseA, PhaseB, PhaseC uint8
}

func (c BoosterSoftStart) encode(buf *argBuf) (byte, []byte, error) {
	return opBoosterSoftStart, buf.pack(c.PhaseA, c.PhaseB, c.PhaseC), nil
}

// DeepSleep (DSLP). Only a hardware reset wakes the controller again.
type DeepSleep struct{}

func (DeepSleep) encode(buf *argBuf) (byte, []byte, error) {
	return opDeepSleep, buf.pack(deepSleepCheck), nil
}

// DataStop (DSP).
type DataStop struct{}

func (DataStop) encode(buf *argBuf) (byte, []byte, error) {
	return opDataStop, buf.pack(), nil
}

// DisplayRefresh (DRF).
type DisplayRefresh struct{}

func (DisplayRefresh) encode(buf *argBuf) (byte, []byte, error) {
	return opDisplayRefresh, buf.pack(), nil
}

// PLLControl (PLL) sets the frame rate clock.
type PLLControl struct {
	Clock uint8
}

func (c PLLControl) encode(buf *argBuf) (byte, []byte, error) {
	return opPLLControl, buf.pack(c.Clock), nil
}

// VCOMDataIntervalSetting (CDI). Border must be below 4.
type VCOMDataIntervalSetting struct {
	Border   uint8
	Polarity DataPolarity
	Interval DataInterval
}

func (c VCOMDataIntervalSetting) encode(buf *argBuf) (byte, []byte, error) {
	if c.Border >= 4 || c.Polarity > Both || c.Interval > V17 {
		return 0, nil, fmt.Errorf("%w: vcom data interval %d/%d/%d", ErrInvalidArgument, c.Border, c.Polarity, c.Interval)
	}
	vbd := c.Border << 6
	ddx := (byte(c.Polarity) + 1) << 4
	// V2 is 0b1111 counting down to V17 at 0b0000.
	cdi := 0b1111 - byte(c.Interval)
	return opVCOMDataIntervalSetting, buf.pack(vbd | ddx | cdi), nil
}

// ResolutionSetting (TRES). Takes priority over PanelSetting.
type ResolutionSetting struct {
	Cols uint8
	Rows uint16
}

func (c ResolutionSetting) encode(buf *argBuf) (byte, []byte, error) {
	if c.Rows > 0x1FF {
		return 0, nil, fmt.Errorf("%w: vertical resolution %d", ErrInvalidArgument, c.Rows)
	}
	hi := byte((c.Rows & 0x100) >> 8)
	lo := byte(c.Rows & 0xFF)
	return opResolutionSetting, buf.pack(c.Cols, hi, lo), nil
}

// VCMDCSetting (VDCS). The value must not exceed 0b111010.
type VCMDCSetting struct {
	VCOMDC uint8
}

func (c VCMDCSetting) encode(buf *argBuf) (byte, []byte, error) {
	if c.VCOMDC > 0b11_1010 {
		return 0, nil, fmt.Errorf("%w: vcom dc %#x", ErrInvalidArgument, c.VCOMDC)
	}
	return opVCMDCSetting, buf.pack(c.VCOMDC), nil
}

// WriteBlackData (DTM1) writes the black/white RAM. 1 = white, 0 = black.
type WriteBlackData []byte

func (c WriteBlackData) encode(*argBuf) (byte, []byte, error) {
	return opWriteBlackData, c, nil
}

// WriteRedData (DTM2) writes the red RAM. 1 = use black/white RAM, 0 = red.
type WriteRedData []byte

func (c WriteRedData) encode(*argBuf) (byte, []byte, error) {
	return opWriteRedData, c, nil
}
