package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"plate-search-service/internal/domain/anpr"
	"plate-search-service/internal/vision/yolo"
)

type DetectorConfig struct {
	ModelPath      string
	InputSize      int
	ScoreThreshold float32
	NMSThreshold   float32
}

// YOLODetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
// A gocv.Net is not reentrant: one detector serves one search at a time.
type YOLODetector struct {
	net gocv.Net
	cfg DetectorConfig
}

func NewYOLODetector(cfg DetectorConfig) (*YOLODetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("load detector model %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{net: net, cfg: cfg}, nil
}

func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]anpr.ObjectDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	layout, err := yolo.LayoutFromDims(out.Size())
	if err != nil {
		return nil, err
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read detector output: %w", err)
	}

	bounds := img.Bounds()
	scaleX := float64(bounds.Dx()) / float64(size)
	scaleY := float64(bounds.Dy()) / float64(size)
	candidates, err := yolo.Decode(data, layout, scaleX, scaleY, d.cfg.ScoreThreshold, image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Box
		scores[i] = c.Score
	}
	keep := gocv.NMSBoxes(rects, scores, d.cfg.ScoreThreshold, d.cfg.NMSThreshold)

	detections := make([]anpr.ObjectDetection, 0, len(keep))
	for _, i := range keep {
		c := candidates[i]
		detections = append(detections, anpr.ObjectDetection{
			Box:        c.Box.Add(bounds.Min),
			ClassID:    c.ClassID,
			Confidence: float64(c.Score),
		})
	}
	return detections, nil
}

func (d *YOLODetector) Close() error {
	return d.net.Close()
}
