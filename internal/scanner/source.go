package scanner

import (
	"context"
	"image"

	"plate-search-service/internal/domain/anpr"
)

// FrameSource is a single forward-only cursor over decoded video frames.
// Next advances and returns the 1-based index of the new current frame, or
// io.EOF once the stream is exhausted. Image decodes the current frame.
type FrameSource interface {
	Next(ctx context.Context) (int, error)
	Image() (image.Image, error)
	Close() error
}

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]anpr.ObjectDetection, error)
}

type TextReader interface {
	Read(ctx context.Context, img image.Image) ([]anpr.TextRegion, error)
}

// ArtifactStore persists evidence images. Encode turns a stored reference
// into a transportable string.
type ArtifactStore interface {
	Store(ctx context.Context, name string, img image.Image) (string, error)
	Encode(ref string) (string, error)
}
