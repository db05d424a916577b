package epd

import (
	"image/color"

	"tinygo.org/x/drivers"
)

// Displayer adapts a Surface to drivers.Displayer so the TinyGo drawing
// libraries (tinyfont, tinydraw) can render onto the panel.
//
// drivers.Displayer.SetPixel cannot fail, so the first SetPixel error is
// kept and returned by the next Display call.
type Displayer struct {
	s   Surface
	err error
}

var _ drivers.Displayer = (*Displayer)(nil)

// NewDisplayer wraps s.
func NewDisplayer(s Surface) *Displayer {
	return &Displayer{s: s}
}

// Size implements drivers.Displayer.
func (d *Displayer) Size() (x, y int16) {
	w, h := d.s.Size()
	return int16(w), int16(h)
}

// SetPixel implements drivers.Displayer.
func (d *Displayer) SetPixel(x, y int16, c color.RGBA) {
	if d.err != nil {
		return
	}
	d.err = d.s.SetPixel(int(x), int(y), FromRGBA(c))
}

// Err returns and clears the first SetPixel error since the last call.
func (d *Displayer) Err() error {
	err := d.err
	d.err = nil
	return err
}

// Display implements drivers.Displayer. It reports a pending SetPixel error
// instead of updating the panel.
func (d *Displayer) Display() error {
	if err := d.Err(); err != nil {
		return err
	}
	return d.s.Update()
}

// FromRGBA picks the panel color for c.
func FromRGBA(c color.RGBA) Color {
	return ColorModel.Convert(c).(Color)
}
