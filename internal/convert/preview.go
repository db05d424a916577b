package convert

import (
	"bytes"
	"image"
	"image/png"
	"os"

	"il0373/internal/epd"
)

// Preview renders black and red planes as they would appear on the panel,
// in the rotated orientation of cfg.
func Preview(cfg *epd.Config, black, red []byte) (*image.NRGBA, error) {
	g, err := epd.NewGraphicDisplay(epd.NewDisplay(nil, cfg), black, red)
	if err != nil {
		return nil, err
	}
	w, h := g.Size()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, g.Pixel(x, y))
		}
	}
	return out, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePNG writes img to path as PNG.
func WritePNG(path string, img image.Image) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
