package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Filename returns the download name for an image taken at t, e.g.
// webpage_20240102_150405_part2.png.
func Filename(t time.Time, suffix string, f Format) string {
	ext := "png"
	if f == FormatJPEG {
		ext = "jpeg"
	}
	return fmt.Sprintf("webpage_%s%s.%s", t.Format("20060102_150405"), suffix, ext)
}

// Encode writes img in the requested format. JPEG output is flattened onto
// white first since the format carries no alpha.
func Encode(img image.Image, opts Options) ([]byte, error) {
	opts = opts.Normalized()
	var out bytes.Buffer
	switch opts.Format {
	case FormatJPEG:
		if hasAlpha(img) {
			img = flatten(img)
		}
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: opts.jpegQuality()}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&out, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return out.Bytes(), nil
}

// newCanvas returns an opaque white buffer.
func newCanvas(w, h int) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(c, c.Bounds(), image.White, image.Point{}, draw.Src)
	return c
}

// flatten composites img over white.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	c := newCanvas(b.Dx(), b.Dy())
	draw.Draw(c, c.Bounds(), img, b.Min, draw.Over)
	return c
}

// hasAlpha samples img on a coarse grid for any non-opaque pixel.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	stepX, stepY := max(1, b.Dx()/64), max(1, b.Dy()/64)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// blitRows draws srcRows rows of src starting at srcY into dst at row dstY,
// stretched to dst's width and dstRows rows tall. Rows falling outside dst
// are clipped.
func blitRows(dst *image.RGBA, dstY, dstRows int, src image.Image, srcY, srcRows int) {
	sb := src.Bounds()
	if srcY+srcRows > sb.Dy() {
		srcRows = sb.Dy() - srcY
	}
	if srcRows <= 0 || dstRows <= 0 {
		return
	}
	sr := image.Rect(sb.Min.X, sb.Min.Y+srcY, sb.Max.X, sb.Min.Y+srcY+srcRows)
	dr := image.Rect(0, dstY, dst.Bounds().Dx(), dstY+dstRows)
	if sr.Dx() == dr.Dx() && sr.Dy() == dr.Dy() {
		draw.Draw(dst, dr, src, sr.Min, draw.Src)
		return
	}
	xdraw.CatmullRom.Scale(dst, dr, src, sr, xdraw.Src, nil)
}

// crop copies r of src into a new buffer of size r.
func crop(src image.Image, r image.Rectangle) *image.RGBA {
	out := newCanvas(r.Dx(), r.Dy())
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out
}

// scaleTo resizes img to w×h when it differs.
func scaleTo(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() == w && b.Dy() == h) {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, xdraw.Src, nil)
	return out
}

var white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
