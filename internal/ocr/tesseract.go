package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"plate-search-service/internal/domain/anpr"
)

const plateWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789- "

type ReaderConfig struct {
	Languages   []string
	PageSegMode int
	// MinHeight is the crop height below which the crop is upscaled first.
	MinHeight int
}

// TesseractReader wraps one gosseract client. Like the client it is not
// safe for concurrent use.
type TesseractReader struct {
	client *gosseract.Client
	cfg    ReaderConfig
}

func NewTesseractReader(cfg ReaderConfig) (*TesseractReader, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng", "por"}
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = int(gosseract.PSM_SPARSE_TEXT)
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = 300
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(cfg.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr languages %v: %w", cfg.Languages, err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("set page seg mode %d: %w", cfg.PageSegMode, err)
	}
	if err := client.SetWhitelist(plateWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr whitelist: %w", err)
	}

	return &TesseractReader{client: client, cfg: cfg}, nil
}

// Read returns one region per recognized word, with confidence in [0,1] and
// boxes in crop coordinates.
func (r *TesseractReader) Read(ctx context.Context, img image.Image) ([]anpr.TextRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared, scale := enhance(img, r.cfg.MinHeight)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, prepared, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("load crop into ocr: %w", err)
	}

	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("ocr crop: %w", err)
	}

	origin := img.Bounds().Min
	regions := make([]anpr.TextRegion, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		regions = append(regions, anpr.TextRegion{
			Box:        unscale(b.Box, scale).Add(origin),
			Text:       text,
			Confidence: b.Confidence / 100,
		})
	}
	return regions, nil
}

func (r *TesseractReader) Close() error {
	return r.client.Close()
}

// enhance upscales small crops and boosts contrast before OCR. It returns
// the factor the crop was scaled by.
func enhance(img image.Image, minHeight int) (image.Image, float64) {
	scale := 1.0
	h := img.Bounds().Dy()
	if h > 0 && h < minHeight {
		scale = float64(minHeight) / float64(h)
		img = imaging.Resize(img, 0, minHeight, imaging.Lanczos)
	}

	gray := imaging.Grayscale(img)
	contrast := imaging.AdjustContrast(gray, 10)
	return imaging.Sharpen(contrast, 1.1), scale
}

func unscale(r image.Rectangle, scale float64) image.Rectangle {
	if scale == 1 {
		return r
	}
	return image.Rect(
		int(float64(r.Min.X)/scale),
		int(float64(r.Min.Y)/scale),
		int(float64(r.Max.X)/scale),
		int(float64(r.Max.Y)/scale),
	)
}
