package epd

import "fmt"

// Controller limits. Max display resolution is 160x296.
const (
	// MaxGateOutputs is the maximum number of rows supported by the controller.
	MaxGateOutputs = 296
	// MaxSourceOutputs is the maximum number of columns supported by the controller.
	MaxSourceOutputs = 160
)

// Dimensions of the display in its native orientation.
type Dimensions struct {
	// Rows must not exceed MaxGateOutputs.
	Rows uint16
	// Cols must not exceed MaxSourceOutputs and must be a multiple of 8.
	Cols uint8
}

// BufferSize returns the length in bytes of one plane.
func (d Dimensions) BufferSize() int {
	return (int(d.Rows)*int(d.Cols) + 7) / 8
}

func (d Dimensions) validate() error {
	if d.Cols%8 != 0 {
		return fmt.Errorf("%w: columns must be evenly divisible by 8, got %d", ErrInvalidDimensions, d.Cols)
	}
	if d.Rows > MaxGateOutputs {
		return fmt.Errorf("%w: rows must not exceed %d, got %d", ErrInvalidDimensions, MaxGateOutputs, d.Rows)
	}
	if d.Cols > MaxSourceOutputs {
		return fmt.Errorf("%w: cols must not exceed %d, got %d", ErrInvalidDimensions, MaxSourceOutputs, d.Cols)
	}
	if d.Rows == 0 || d.Cols == 0 {
		return fmt.Errorf("%w: %dx%d is empty", ErrInvalidDimensions, d.Cols, d.Rows)
	}
	return nil
}

// Rotation is the physical rotation of the display relative to its native
// orientation.
//
// For example the native orientation of the Inky pHAT is a tall 104x212
// panel; Rotate270 makes it the right way up with the ports on top.
type Rotation uint8

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

func (r Rotation) String() string {
	switch r {
	case Rotate0:
		return "0"
	case Rotate90:
		return "90"
	case Rotate180:
		return "180"
	case Rotate270:
		return "270"
	}
	return fmt.Sprintf("Rotation(%d)", uint8(r))
}

// RotationFromDegrees maps 0, 90, 180 and 270 to a Rotation.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return Rotate0, fmt.Errorf("epd: unsupported rotation %d degrees", deg)
}

// Config is an immutable display configuration. Use Builder to make one.
type Config struct {
	powerSetting     PowerSetting
	boosterSoftStart BoosterSoftStart
	panelSetting     PanelSetting
	pll              PLLControl
	dimensions       Dimensions
	rotation         Rotation
}

// Dimensions returns the configured native dimensions.
func (c *Config) Dimensions() Dimensions { return c.dimensions }

// Rotation returns the configured rotation.
func (c *Config) Rotation() Rotation { return c.rotation }

// Builder constructs a Config.
//
// Dimensions must be supplied; everything else has a default. Builder
// methods return the receiver so calls can be chained:
//
//	cfg, err := epd.NewBuilder().
//		Dimensions(epd.Dimensions{Rows: 212, Cols: 104}).
//		Rotation(epd.Rotate270).
//		Build()
type Builder struct {
	powerSetting     PowerSetting
	boosterSoftStart BoosterSoftStart
	panelSetting     PanelSetting
	pll              PLLControl
	dimensions       *Dimensions
	rotation         Rotation
}

// NewBuilder returns a Builder holding the default settings.
func NewBuilder() *Builder {
	return &Builder{
		powerSetting:     PowerSetting{VDH: 0x2b, VDL: 0x2b, VDHR: 0x09},
		boosterSoftStart: BoosterSoftStart{PhaseA: 0x17, PhaseB: 0x17, PhaseC: 0x17},
		panelSetting:     PanelSetting{Resolution: R160x296},
		pll:              PLLControl{Clock: 0x29},
		rotation:         Rotate0,
	}
}

// PanelSetting sets the resolution class. Defaults to R160x296.
func (b *Builder) PanelSetting(res DisplayResolution) *Builder {
	b.panelSetting = PanelSetting{Resolution: res}
	return b
}

// PowerSetting sets the power voltages. Defaults to 0x2b, 0x2b, 0x09.
func (b *Builder) PowerSetting(vdh, vdl, vdhr uint8) *Builder {
	b.powerSetting = PowerSetting{VDH: vdh, VDL: vdl, VDHR: vdhr}
	return b
}

// BoosterSoftStart sets the booster phases. Defaults to 0x17, 0x17, 0x17.
func (b *Builder) BoosterSoftStart(a, bb, c uint8) *Builder {
	b.boosterSoftStart = BoosterSoftStart{PhaseA: a, PhaseB: bb, PhaseC: c}
	return b
}

// PLL sets the clock. Defaults to 0x29.
func (b *Builder) PLL(clock uint8) *Builder {
	b.pll = PLLControl{Clock: clock}
	return b
}

// Dimensions sets the display dimensions. There is no default.
func (b *Builder) Dimensions(d Dimensions) *Builder {
	b.dimensions = &d
	return b
}

// Rotation sets the display rotation. Defaults to Rotate0.
func (b *Builder) Rotation(r Rotation) *Builder {
	b.rotation = r
	return b
}

// Build validates the settings and returns the Config.
func (b *Builder) Build() (*Config, error) {
	if b.dimensions == nil {
		return nil, ErrNoDimensions
	}
	if err := b.dimensions.validate(); err != nil {
		return nil, err
	}
	if b.rotation > Rotate270 {
		return nil, fmt.Errorf("epd: invalid rotation %d", b.rotation)
	}
	// Reject argument values the controller would refuse at init time.
	var buf argBuf
	for _, cmd := range []Command{b.powerSetting, b.panelSetting} {
		if _, _, err := cmd.encode(&buf); err != nil {
			return nil, err
		}
	}
	return &Config{
		powerSetting:     b.powerSetting,
		boosterSoftStart: b.boosterSoftStart,
		panelSetting:     b.panelSetting,
		pll:              b.pll,
		dimensions:       *b.dimensions,
		rotation:         b.rotation,
	}, nil
}
