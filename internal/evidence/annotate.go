package evidence

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness = 5
	lineHeight   = 18
	textGap      = 10
)

var MatchColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// Annotate returns a copy of frame with box outlined and lines written above
// it, or inside its top edge when there is no room above. The copy is
// rebased to a (0,0) origin; box is given in frame coordinates.
func Annotate(frame image.Image, box image.Rectangle, lines ...string) *image.NRGBA {
	out := imaging.Clone(frame)
	box = box.Sub(frame.Bounds().Min)

	outline(out, box, boxThickness, MatchColor)

	face := basicfont.Face7x13
	ascent := face.Metrics().Ascent.Ceil()

	baseline := box.Min.Y - textGap - (len(lines)-1)*lineHeight
	if baseline < ascent {
		baseline = box.Min.Y + boxThickness + ascent + 2
	}

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(MatchColor),
		Face: face,
	}
	for i, line := range lines {
		d.Dot = fixed.P(box.Min.X+boxThickness, baseline+i*lineHeight)
		d.DrawString(line)
	}
	return out
}

func outline(dst draw.Image, r image.Rectangle, thickness int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}
