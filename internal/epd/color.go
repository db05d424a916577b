package epd

import "image/color"

// Color is the state of one pixel on a tri-color panel.
type Color uint8

const (
	Black Color = iota
	White
	Red
)

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	case Red:
		return "red"
	}
	return "invalid"
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	switch c {
	case White:
		return 0xffff, 0xffff, 0xffff, 0xffff
	case Red:
		return 0xffff, 0, 0, 0xffff
	}
	return 0, 0, 0, 0xffff
}

// planeBits returns the black and red plane bit values encoding c.
func (c Color) planeBits() (black, red bool) {
	switch c {
	case Black:
		return false, true
	case Red:
		return true, false
	}
	return true, true
}

// fill returns the byte values Clear writes into the black and red planes.
func (c Color) fill() (black, red byte) {
	b, r := c.planeBits()
	if b {
		black = 0xFF
	}
	if r {
		red = 0xFF
	}
	return black, red
}

// colorFromBits decodes a pixel from its plane bits. The combination of both
// bits clear is never written by this package and reads back as Black.
func colorFromBits(black, red bool) Color {
	switch {
	case !black:
		return Black
	case !red:
		return Red
	}
	return White
}

// ColorModel converts arbitrary colors to the nearest Color.
var ColorModel color.Model = color.ModelFunc(convert)

func convert(c color.Color) color.Color {
	if cc, ok := c.(Color); ok {
		return cc
	}
	return Classify(color.NRGBAModel.Convert(c).(color.NRGBA))
}

// Classify picks the panel color for c:
//
//   - transparent (alpha < 128) → White
//   - luma Y = 0.299R + 0.587G + 0.114B below 64 → Black
//   - R > 128 and R - max(G, B) > 32 → Red
//   - everything else → White
func Classify(c color.NRGBA) Color {
	if c.A < 128 {
		return White
	}
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	y := 0.299*r + 0.587*g + 0.114*b

	maxGB := g
	if b > maxGB {
		maxGB = b
	}
	redness := r - maxGB

	if y < 64 {
		return Black
	}
	if r > 128 && redness > 32 {
		return Red
	}
	return White
}
