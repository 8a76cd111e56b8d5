package appearance

import (
	"bytes"
	"image"
	"image/draw"

	// Decoders registered with image.Decode.  The set mirrors what
	// mobile bitmap factories accept.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeImage turns encoded image bytes into an RGBA8 raster.  It
// returns nil for empty or undecodable input; losing the visual mark is
// not a signing failure.
func DecodeImage(raw []byte) *Raster {
	if len(raw) == 0 {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	// A fresh NRGBA has Stride == 4*width, so Pix is already packed.
	return &Raster{Pix: dst.Pix, Width: b.Dx(), Height: b.Dy()}
}
