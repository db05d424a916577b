package epd

import (
	"fmt"
	"image"
	"image/color"
)

// Surface is a drawable tri-color frame in the rotated coordinate space of
// a display. GraphicDisplay and SramGraphicDisplay implement it.
type Surface interface {
	// Size returns the width and height after rotation.
	Size() (width, height int)
	// Clear fills the whole frame with c.
	Clear(c Color) error
	// SetPixel sets one pixel. Coordinates outside Size are ignored.
	SetPixel(x, y int, c Color) error
	// Update transmits the frame and refreshes the panel.
	Update() error
}

// GraphicDisplay is a Display with black and red planes in host memory to
// draw into and update the panel from.
type GraphicDisplay struct {
	*Display
	black []byte
	red   []byte
}

var (
	_ Surface     = (*GraphicDisplay)(nil)
	_ image.Image = (*GraphicDisplay)(nil)
)

// NewGraphicDisplay promotes d to a GraphicDisplay drawing into black and
// red. Each buffer must be exactly BufferSize bytes; the GraphicDisplay
// uses them exclusively from now on.
func NewGraphicDisplay(d *Display, black, red []byte) (*GraphicDisplay, error) {
	size := d.Dimensions().BufferSize()
	if len(black) != size || len(red) != size {
		return nil, fmt.Errorf("%w: expected %d bytes per plane, got %d/%d", ErrBufferSize, size, len(black), len(red))
	}
	return &GraphicDisplay{Display: d, black: black, red: red}, nil
}

// Update writes the planes to the controller and refreshes the panel.
func (g *GraphicDisplay) Update() error {
	return g.Display.Update(g.black, g.red)
}

// Clear fills the planes with a single color. It never fails.
func (g *GraphicDisplay) Clear(c Color) error {
	black, red := c.fill()
	for i := range g.black {
		g.black[i] = black
	}
	for i := range g.red {
		g.red[i] = red
	}
	return nil
}

// SetPixel sets the pixel at (x, y) in rotated coordinates. It never fails;
// out-of-bounds coordinates are ignored.
func (g *GraphicDisplay) SetPixel(x, y int, c Color) error {
	if !inBounds(g.Display, x, y) {
		return nil
	}
	index, bit := g.address(x, y)
	black, red := c.planeBits()
	g.black[index] = setBit(g.black[index], bit, black)
	g.red[index] = setBit(g.red[index], bit, red)
	return nil
}

// Pixel returns the color at (x, y) in rotated coordinates, or White when
// the coordinates are out of bounds.
func (g *GraphicDisplay) Pixel(x, y int) Color {
	if !inBounds(g.Display, x, y) {
		return White
	}
	index, bit := g.address(x, y)
	return colorFromBits(g.black[index]&bit != 0, g.red[index]&bit != 0)
}

// Size returns the width and height after rotation.
func (g *GraphicDisplay) Size() (width, height int) {
	return rotatedSize(g.Display)
}

// Planes returns the black and red buffers.
func (g *GraphicDisplay) Planes() (black, red []byte) {
	return g.black, g.red
}

// ColorModel implements image.Image.
func (g *GraphicDisplay) ColorModel() color.Model { return ColorModel }

// Bounds implements image.Image.
func (g *GraphicDisplay) Bounds() image.Rectangle {
	w, h := g.Size()
	return image.Rect(0, 0, w, h)
}

// At implements image.Image.
func (g *GraphicDisplay) At(x, y int) color.Color { return g.Pixel(x, y) }

// Set implements draw.Image.
func (g *GraphicDisplay) Set(x, y int, c color.Color) {
	_ = g.SetPixel(x, y, ColorModel.Convert(c).(Color))
}

func (g *GraphicDisplay) address(x, y int) (int, byte) {
	return rotate(x, y, int(g.Cols()), int(g.Rows()), g.Rotation())
}

func rotatedSize(d *Display) (width, height int) {
	switch d.Rotation() {
	case Rotate90, Rotate270:
		return int(d.Rows()), int(d.Cols())
	}
	return int(d.Cols()), int(d.Rows())
}

func inBounds(d *Display, x, y int) bool {
	w, h := rotatedSize(d)
	return x >= 0 && y >= 0 && x < w && y < h
}

func setBit(b, bit byte, on bool) byte {
	if on {
		return b | bit
	}
	return b &^ bit
}

// rotate maps (x, y) in rotated coordinates to a plane byte index and bit
// mask in the controller's native scan order. width and height are the
// native cols and rows.
func rotate(x, y, width, height int, r Rotation) (int, byte) {
	stride := width / 8
	switch r {
	case Rotate90:
		return (width-1-y)/8 + stride*x, 0x01 << (y % 8)
	case Rotate180:
		return stride*height - 1 - (x/8 + stride*y), 0x01 << (x % 8)
	case Rotate270:
		return y/8 + (height-1-x)*stride, 0x80 >> (y % 8)
	}
	return x/8 + stride*y, 0x80 >> (x % 8)
}
