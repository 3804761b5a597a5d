package frame

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Render draws src onto dst. The image is stretched to the canvas, scaled by
// t.Scale about the origin, moved by (t.X, t.Y) and blended with t.Alpha.
func Render(dst draw.Image, src image.Image, t Transform) {
	if src == nil || t.Alpha <= 0 || t.Scale <= 0 {
		return
	}
	sb := src.Bounds()
	db := dst.Bounds()
	if sb.Empty() || db.Empty() {
		return
	}

	sx := float64(db.Dx()) / float64(sb.Dx()) * t.Scale
	sy := float64(db.Dy()) / float64(sb.Dy()) * t.Scale
	m := f64.Aff3{
		sx, 0, float64(db.Min.X) + t.X - float64(sb.Min.X)*sx,
		0, sy, float64(db.Min.Y) + t.Y - float64(sb.Min.Y)*sy,
	}

	var opts *draw.Options
	if t.Alpha < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(t.Alpha * 0xff)})}
	}
	draw.ApproxBiLinear.Transform(dst, m, src, sb, draw.Over, opts)
}

// Clear fills dst with c, replacing whatever was there.
func Clear(dst draw.Image, c color.Color) {
	if c == nil {
		c = color.Transparent
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
