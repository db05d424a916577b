package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"il0373/internal/epd"
)

// Paint clears dst to white and draws img onto it, centered. An image larger
// than the surface is center-cropped; a smaller one leaves a white margin.
//
// Pixels are classified with epd.Classify:
//
//   - transparent (alpha < 128) → white
//   - very dark (Y < 64) → black
//   - clearly red (R > 128 and R - max(G, B) > 32) → red
//   - everything else → white
//
// Only non-white pixels are written after the clear.
func Paint(dst epd.Surface, img image.Image) error {
	if err := dst.Clear(epd.White); err != nil {
		return err
	}
	w, h := dst.Size()
	src := toNRGBA(img)
	b := src.Bounds()

	// Offsets of the image inside the surface; negative means cropped.
	offX := (w - b.Dx()) / 2
	offY := (h - b.Dy()) / 2

	for py := max(0, offY); py < min(h, offY+b.Dy()); py++ {
		rowOff := (py - offY) * src.Stride
		for px := max(0, offX); px < min(w, offX+b.Dx()); px++ {
			i := rowOff + (px-offX)*4
			c := epd.Classify(color.NRGBA{R: src.Pix[i], G: src.Pix[i+1], B: src.Pix[i+2], A: src.Pix[i+3]})
			if c == epd.White {
				continue
			}
			if err := dst.SetPixel(px, py, c); err != nil {
				return fmt.Errorf("convert: pixel (%d, %d): %w", px, py, err)
			}
		}
	}
	return nil
}

// toNRGBA returns img as an *image.NRGBA whose bounds start at the origin,
// so Pix can be indexed directly.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n
}
