package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"gocv.io/x/gocv"
)

var ErrVideoUnavailable = errors.New("video unavailable")

// VideoSource reads a video file front to back. Frame indices start at 1.
// It is not safe for concurrent use.
type VideoSource struct {
	path    string
	capture *gocv.VideoCapture
	frame   gocv.Mat
	index   int
}

func OpenVideo(path string) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVideoUnavailable, path, err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVideoUnavailable, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s: cannot be opened", ErrVideoUnavailable, path)
	}

	return &VideoSource{
		path:    path,
		capture: capture,
		frame:   gocv.NewMat(),
	}, nil
}

func (v *VideoSource) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ok := v.capture.Read(&v.frame); !ok || v.frame.Empty() {
		return 0, io.EOF
	}
	v.index++
	return v.index, nil
}

// Image converts the current frame. Only sampled frames pay for it.
func (v *VideoSource) Image() (image.Image, error) {
	if v.frame.Empty() {
		return nil, fmt.Errorf("no frame decoded at index %d", v.index)
	}
	img, err := v.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", v.index, err)
	}
	return img, nil
}

func (v *VideoSource) FPS() float64 {
	return v.capture.Get(gocv.VideoCaptureFPS)
}

func (v *VideoSource) Close() error {
	v.frame.Close()
	return v.capture.Close()
}

