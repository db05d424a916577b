package epd

// SramGraphicDisplay is a Display whose black and red planes live in an SRAM
// chip on the controller's SPI bus instead of host memory. It requires a
// DisplayInterface that supports the Sram* methods, such as SramInterface.
//
// The black plane starts at SRAM address 0 and the red plane directly
// follows it.
type SramGraphicDisplay struct {
	*Display
	size uint16
}

var _ Surface = (*SramGraphicDisplay)(nil)

// NewSramGraphicDisplay promotes d to a SramGraphicDisplay.
func NewSramGraphicDisplay(d *Display) *SramGraphicDisplay {
	return &SramGraphicDisplay{Display: d, size: uint16(d.Dimensions().BufferSize())}
}

// BlackAddress is the SRAM address of the black plane.
func (s *SramGraphicDisplay) BlackAddress() uint16 { return 0 }

// RedAddress is the SRAM address of the red plane.
func (s *SramGraphicDisplay) RedAddress() uint16 { return s.size }

// BufferSize is the length in bytes of each plane.
func (s *SramGraphicDisplay) BufferSize() uint16 { return s.size }

// Update streams both planes from SRAM to the controller and refreshes the
// panel.
func (s *SramGraphicDisplay) Update() error {
	return s.UpdateFromSram(s.size, s.BlackAddress(), s.RedAddress())
}

// Clear fills both planes in SRAM with a single color.
func (s *SramGraphicDisplay) Clear(c Color) error {
	black, red := c.fill()
	if err := s.Interface().SramClear(s.BlackAddress(), s.size, black); err != nil {
		return err
	}
	return s.Interface().SramClear(s.RedAddress(), s.size, red)
}

// SetPixel sets the pixel at (x, y) in rotated coordinates with a
// read-modify-write of one byte in each plane. Out-of-bounds coordinates
// are ignored.
func (s *SramGraphicDisplay) SetPixel(x, y int, c Color) error {
	if !inBounds(s.Display, x, y) {
		return nil
	}
	index, bit := s.address(x, y)
	blackAddr := s.BlackAddress() + index
	redAddr := s.RedAddress() + index

	iface := s.Interface()
	var black, red [1]byte
	if err := iface.SramRead(blackAddr, black[:]); err != nil {
		return err
	}
	if err := iface.SramRead(redAddr, red[:]); err != nil {
		return err
	}

	b, r := c.planeBits()
	black[0] = setBit(black[0], bit, b)
	red[0] = setBit(red[0], bit, r)

	if err := iface.SramWrite(blackAddr, black[:]); err != nil {
		return err
	}
	return iface.SramWrite(redAddr, red[:])
}

// Pixel reads the color at (x, y) in rotated coordinates back from SRAM.
// Out-of-bounds coordinates read as White.
func (s *SramGraphicDisplay) Pixel(x, y int) (Color, error) {
	if !inBounds(s.Display, x, y) {
		return White, nil
	}
	index, bit := s.address(x, y)
	iface := s.Interface()
	var black, red [1]byte
	if err := iface.SramRead(s.BlackAddress()+index, black[:]); err != nil {
		return White, err
	}
	if err := iface.SramRead(s.RedAddress()+index, red[:]); err != nil {
		return White, err
	}
	return colorFromBits(black[0]&bit != 0, red[0]&bit != 0), nil
}

// Size returns the width and height after rotation.
func (s *SramGraphicDisplay) Size() (width, height int) {
	return rotatedSize(s.Display)
}

func (s *SramGraphicDisplay) address(x, y int) (uint16, byte) {
	index, bit := rotate(x, y, int(s.Cols()), int(s.Rows()), s.Rotation())
	return uint16(index), bit
}
