package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"il0373/internal/capture"
	"il0373/internal/config"
	"il0373/internal/convert"
	"il0373/internal/epd"
)

const (
	textMargin = 4
	lineHeight = 12
)

var textFont = &proggy.TinySZ8pt7b

// drawContent paints the configured content source onto s. URL wins over
// Image, which wins over Text.
func drawContent(ctx context.Context, s epd.Surface, c config.ContentConfig) error {
	switch {
	case c.URL != "":
		w, h := s.Size()
		img, err := capture.Image(ctx, capture.Options{URL: c.URL, Width: w, Height: h})
		if err != nil {
			return err
		}
		return convert.Paint(s, img)
	case c.Image != "":
		img, err := loadImage(c.Image)
		if err != nil {
			return err
		}
		return convert.Paint(s, img)
	}
	return drawText(s, c.Text)
}

// drawText writes text in black, one line per newline, from the top left.
// A line starting with "!" is drawn in red without the marker.
func drawText(s epd.Surface, text string) error {
	if err := s.Clear(epd.White); err != nil {
		return err
	}
	d := epd.NewDisplayer(s)
	for i, line := range strings.Split(text, "\n") {
		c := epd.Black
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			line, c = rest, epd.Red
		}
		y := int16(textMargin + lineHeight*(i+1))
		tinyfont.WriteLine(d, textFont, textMargin, y, line, rgba(c))
	}
	return d.Err()
}

func rgba(c epd.Color) color.RGBA {
	return color.RGBAModel.Convert(c).(color.RGBA)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// dumpFrame writes black.bin, red.bin and preview.png into dir.
func dumpFrame(dir string, cfg *epd.Config, black, red []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "black.bin"), black, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "red.bin"), red, 0o644); err != nil {
		return err
	}
	img, err := convert.Preview(cfg, black, red)
	if err != nil {
		return err
	}
	return convert.WritePNG(filepath.Join(dir, "preview.png"), img)
}
