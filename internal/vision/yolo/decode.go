// Package yolo decodes raw YOLOv8 detection tensors into boxes.
package yolo

import (
	"fmt"
	"image"
	"math"
)

// Layout describes a [1, attrs, anchors] tensor, or [1, anchors, attrs] when
// Transposed is set. attrs is 4 box values followed by one score per class.
type Layout struct {
	Attrs      int
	Anchors    int
	Transposed bool
}

func (l Layout) Classes() int {
	return l.Attrs - 4
}

// LayoutFromDims accepts the dims reported for a YOLOv8 output blob. The
// attribute axis is the smaller one.
func LayoutFromDims(dims []int) (Layout, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return Layout{}, fmt.Errorf("unexpected output shape %v", dims)
	}
	l := Layout{Attrs: dims[1], Anchors: dims[2]}
	if l.Attrs > l.Anchors {
		l = Layout{Attrs: dims[2], Anchors: dims[1], Transposed: true}
	}
	if l.Classes() < 1 {
		return Layout{}, fmt.Errorf("output shape %v has no class scores", dims)
	}
	return l, nil
}

type Candidate struct {
	Box     image.Rectangle
	ClassID int
	Score   float32
}

// Decode turns each anchor into its best-scoring class and keeps those at or
// above minScore. Boxes are scaled from network input space by scaleX/scaleY
// and clipped to bounds.
func Decode(data []float32, l Layout, scaleX, scaleY float64, minScore float32, bounds image.Rectangle) ([]Candidate, error) {
	if len(data) < l.Attrs*l.Anchors {
		return nil, fmt.Errorf("output has %d values, layout needs %d", len(data), l.Attrs*l.Anchors)
	}

	at := func(attr, anchor int) float32 {
		if l.Transposed {
			return data[anchor*l.Attrs+attr]
		}
		return data[attr*l.Anchors+anchor]
	}

	var out []Candidate
	for i := 0; i < l.Anchors; i++ {
		best := -1
		var bestScore float32
		for c := 0; c < l.Classes(); c++ {
			if s := at(4+c, i); best < 0 || s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore < minScore {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))
		box := image.Rect(
			int(math.Round((cx-w/2)*scaleX)),
			int(math.Round((cy-h/2)*scaleY)),
			int(math.Round((cx+w/2)*scaleX)),
			int(math.Round((cy+h/2)*scaleY)),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}

		out = append(out, Candidate{Box: box, ClassID: best, Score: bestScore})
	}
	return out, nil
}
